package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	CpfCnpj           string     `json:"cpf_cnpj"`
	Phone             string     `json:"phone"`
	PersonType        PersonType `json:"person_type"`
	GatewayCustomerID string     `json:"gateway_customer_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type PersonType string

const (
	PersonIndividual PersonType = "FISICA"
	PersonBusiness   PersonType = "JURIDICA"
)

// PersonTypeFor derives the person type from a tax id: 14 digits is a CNPJ.
func PersonTypeFor(cpfCnpj string) PersonType {
	if len(OnlyDigits(cpfCnpj)) == 14 {
		return PersonBusiness
	}
	return PersonIndividual
}

func OnlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
