package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
)

type FinalizeResult struct {
	Transaction *models.Transaction
	Purchase    *models.Purchase
	// AlreadyFinalized is set when the transaction was in a success status
	// before the call; nothing was written.
	AlreadyFinalized bool
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Update(ctx context.Context, id uuid.UUID, upd models.TransactionUpdate) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error)
	// GetPendingForUser returns the latest PENDING transaction, or nil when there is none.
	GetPendingForUser(ctx context.Context, userID uuid.UUID) (*models.Transaction, error)
	// Finalize stores a success status and creates or extends the grant in one database transaction.
	// Transactions already closed as OVERDUE or REFUNDED are refused with ErrTransactionClosed.
	Finalize(ctx context.Context, id uuid.UUID, status models.TransactionStatus, validity time.Duration) (*FinalizeResult, error)
}
