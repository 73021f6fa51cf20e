package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is the access grant a user holds for a product.
type Purchase struct {
	ID            uuid.UUID    `json:"id"`
	UserID        uuid.UUID    `json:"user_id"`
	ProductID     string       `json:"product_id"`
	TransactionID uuid.UUID    `json:"transaction_id"`
	Status        AccessStatus `json:"status"`
	StartDate     time.Time    `json:"start_date"`
	EndDate       time.Time    `json:"end_date"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type AccessStatus string

const (
	AccessActive   AccessStatus = "active"
	AccessInactive AccessStatus = "inactive"
)
