package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
)

type CardRepository interface {
	Create(ctx context.Context, card *models.Card) error
	// UpdateToken replaces a stale token in place, relinking the card to the
	// gateway customer that issued the new token.
	UpdateToken(ctx context.Context, id uuid.UUID, customerID, token, last4, brand string) error
	ListListable(ctx context.Context, userID uuid.UUID) ([]models.Card, error)
	FindByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*models.Card, error)
	// SoftDelete hides the card; the row is kept.
	SoftDelete(ctx context.Context, userID, id uuid.UUID) error
}
