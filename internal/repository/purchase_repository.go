package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
)

type PurchaseRepository interface {
	// CreateOrExtend keeps at most one active grant per user and product:
	// an existing one gets end = now + validity and is relinked to transactionID.
	CreateOrExtend(ctx context.Context, userID uuid.UUID, productID string, transactionID uuid.UUID, validity time.Duration) (*models.Purchase, error)
	GetActive(ctx context.Context, userID uuid.UUID, productID string) (*models.Purchase, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error)
}
