package models

import (
	"time"

	"github.com/google/uuid"
)

// Card is a saved gateway token. Only the last four digits of the PAN are kept.
type Card struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	GatewayCustomerID string    `json:"gateway_customer_id"`
	Last4             string    `json:"last4"`
	Brand             string    `json:"brand"`
	Token             string    `json:"-"`
	Fingerprint       string    `json:"-"`
	Listable          bool      `json:"listable"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
