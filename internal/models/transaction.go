package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID                uuid.UUID           `json:"id"`
	UserID            uuid.UUID           `json:"user_id"`
	ProductID         string              `json:"product_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Status            TransactionStatus   `json:"status"`
	PaymentMethod     PaymentMethod       `json:"payment_method"`
	GatewayCustomerID string              `json:"gateway_customer_id"`
	GatewayPaymentID  *string             `json:"gateway_payment_id,omitempty"`
	Metadata          TransactionMetadata `json:"metadata"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TransactionMetadata is the free-form snapshot kept alongside a payment attempt.
type TransactionMetadata struct {
	Name         string          `json:"name,omitempty"`
	Email        string          `json:"email,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	ProductPrice decimal.Decimal `json:"product_price"`
	Installments int             `json:"installments,omitempty"`
}

// TransactionUpdate carries the fields to change; nil fields are left untouched.
type TransactionUpdate struct {
	ProductID         *string
	Amount            *decimal.Decimal
	Status            *TransactionStatus
	PaymentMethod     *PaymentMethod
	GatewayCustomerID *string
	GatewayPaymentID  *string
	Metadata          *TransactionMetadata
}

func (u TransactionUpdate) IsEmpty() bool {
	return u.ProductID == nil && u.Amount == nil && u.Status == nil && u.PaymentMethod == nil &&
		u.GatewayCustomerID == nil && u.GatewayPaymentID == nil && u.Metadata == nil
}

type TransactionStatus string

const (
	StatusPending        TransactionStatus = "PENDING"
	StatusReceived       TransactionStatus = "RECEIVED"
	StatusConfirmed      TransactionStatus = "CONFIRMED"
	StatusOverdue        TransactionStatus = "OVERDUE"
	StatusRefunded       TransactionStatus = "REFUNDED"
	StatusReceivedInCash TransactionStatus = "RECEIVED_IN_CASH"
)

// ParseTransactionStatus maps a gateway status string onto the known set.
// Unknown values report ok=false and are treated as still pending by callers.
func ParseTransactionStatus(s string) (TransactionStatus, bool) {
	switch st := TransactionStatus(s); st {
	case StatusPending, StatusReceived, StatusConfirmed, StatusOverdue, StatusRefunded, StatusReceivedInCash:
		return st, true
	default:
		return StatusPending, false
	}
}

func (s TransactionStatus) IsValid() bool {
	_, ok := ParseTransactionStatus(string(s))
	return ok
}

// IsSuccess reports whether the payment has been collected.
func (s TransactionStatus) IsSuccess() bool {
	return s == StatusReceived || s == StatusConfirmed || s == StatusReceivedInCash
}

func (s TransactionStatus) IsTerminal() bool {
	return s.IsSuccess() || s == StatusOverdue || s == StatusRefunded
}

type PaymentMethod string

const (
	MethodPix        PaymentMethod = "PIX"
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodBoleto     PaymentMethod = "BOLETO"
)

func (m PaymentMethod) IsValid() bool {
	return m == MethodPix || m == MethodCreditCard || m == MethodBoleto
}
