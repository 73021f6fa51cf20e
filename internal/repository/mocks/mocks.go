// Package mocks holds testify mocks for the repository interfaces used by
// the checkout tests. The Mock* types are generated with mockgen.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/repository"
	"github.com/stretchr/testify/mock"
)

type UserRepository struct {
	mock.Mock
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (m *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *UserRepository) SetGatewayCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	return m.Called(ctx, id, customerID).Error(0)
}

type TransactionRepository struct {
	mock.Mock
}

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

func (m *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *TransactionRepository) Update(ctx context.Context, id uuid.UUID, upd models.TransactionUpdate) error {
	return m.Called(ctx, id, upd).Error(0)
}

func (m *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *TransactionRepository) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	args := m.Called(ctx, paymentID)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *TransactionRepository) GetPendingForUser(ctx context.Context, userID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, userID)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *TransactionRepository) Finalize(ctx context.Context, id uuid.UUID, status models.TransactionStatus, validity time.Duration) (*repository.FinalizeResult, error) {
	args := m.Called(ctx, id, status, validity)
	res, _ := args.Get(0).(*repository.FinalizeResult)
	return res, args.Error(1)
}

type CardRepository struct {
	mock.Mock
}

var _ repository.CardRepository = (*CardRepository)(nil)

func (m *CardRepository) Create(ctx context.Context, card *models.Card) error {
	return m.Called(ctx, card).Error(0)
}

func (m *CardRepository) UpdateToken(ctx context.Context, id uuid.UUID, customerID, token, last4, brand string) error {
	return m.Called(ctx, id, customerID, token, last4, brand).Error(0)
}

func (m *CardRepository) ListListable(ctx context.Context, userID uuid.UUID) ([]models.Card, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]models.Card)
	return list, args.Error(1)
}

func (m *CardRepository) FindByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*models.Card, error) {
	args := m.Called(ctx, userID, fingerprint)
	c, _ := args.Get(0).(*models.Card)
	return c, args.Error(1)
}

func (m *CardRepository) SoftDelete(ctx context.Context, userID, id uuid.UUID) error {
	return m.Called(ctx, userID, id).Error(0)
}
