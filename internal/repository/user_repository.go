package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// Upsert writes the profile fields. The gateway customer reference is left untouched.
	Upsert(ctx context.Context, user *models.User) error
	// SetGatewayCustomerID stores the reference; an empty id clears it.
	SetGatewayCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}
