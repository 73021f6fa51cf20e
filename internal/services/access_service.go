package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/repository"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type AccessSummary struct {
	Active  *models.Purchase  `json:"active,omitempty"`
	History []models.Purchase `json:"history"`
}

type AccessService interface {
	Access(ctx context.Context, userID uuid.UUID) (*AccessSummary, error)
	GrantForTransaction(ctx context.Context, txID uuid.UUID) (*models.Purchase, error)
}

type accessService struct {
	purchaseRepo    repository.PurchaseRepository
	transactionRepo repository.TransactionRepository
	productID       string
	validity        time.Duration
}

func NewAccessService(purchaseRepo repository.PurchaseRepository, transactionRepo repository.TransactionRepository, productID string, validity time.Duration) *accessService {
	return &accessService{
		purchaseRepo:    purchaseRepo,
		transactionRepo: transactionRepo,
		productID:       productID,
		validity:        validity,
	}
}

func (s *accessService) Access(ctx context.Context, userID uuid.UUID) (*AccessSummary, error) {
	tracer := otel.Tracer("access-service")
	ctx, span := tracer.Start(ctx, "Access")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()

	summary := &AccessSummary{History: []models.Purchase{}}
	active, err := s.purchaseRepo.GetActive(ctx, userID, s.productID)
	switch {
	case err == nil:
		summary.Active = active
	case stderrors.Is(err, pkgerrors.ErrPurchaseNotFound):
	default:
		span.RecordError(err)
		return nil, storeError(err)
	}

	history, err := s.purchaseRepo.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, storeError(err)
	}
	if history != nil {
		summary.History = history
	}
	return summary, nil
}

// GrantForTransaction creates or extends the grant of a paid transaction
// without touching its status. Operators use it to repair a grant whose
// finalize was lost.
func (s *accessService) GrantForTransaction(ctx context.Context, txID uuid.UUID) (*models.Purchase, error) {
	tracer := otel.Tracer("access-service")
	ctx, span := tracer.Start(ctx, "GrantForTransaction")
	span.SetAttributes(attribute.String("transaction_id", txID.String()))
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, txID)
	if err != nil {
		span.RecordError(err)
		return nil, storeError(err)
	}
	if !tx.Status.IsSuccess() {
		return nil, pkgerrors.Validation("transaction is not paid")
	}

	grant, err := s.purchaseRepo.CreateOrExtend(ctx, tx.UserID, tx.ProductID, tx.ID, s.validity)
	if err != nil {
		span.RecordError(err)
		return nil, storeError(err)
	}
	slog.Info("grant issued manually", "transaction_id", tx.ID, "user_id", tx.UserID, "end_date", grant.EndDate)
	return grant, nil
}
