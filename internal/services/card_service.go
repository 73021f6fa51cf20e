package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type CardService interface {
	SaveCard(ctx context.Context, userID uuid.UUID, card gateway.CardData, holder gateway.HolderInfo) (*models.Card, error)
	ListCards(ctx context.Context, userID uuid.UUID) ([]models.Card, error)
	DeleteCard(ctx context.Context, userID, cardID uuid.UUID) error
}

type cardService struct {
	checkout *checkoutService
}

// NewCardService shares repositories and the gateway with the checkout.
func NewCardService(checkout *checkoutService) *cardService {
	return &cardService{checkout: checkout}
}

// SaveCard tokenizes the card under the buyer's gateway customer and stores
// a listable token.
func (s *cardService) SaveCard(ctx context.Context, userID uuid.UUID, card gateway.CardData, holder gateway.HolderInfo) (*models.Card, error) {
	tracer := otel.Tracer("card-service")
	ctx, span := tracer.Start(ctx, "SaveCard")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()

	c := s.checkout
	user, err := c.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, storeError(err)
	}
	customerID, err := c.ensureGatewayCustomer(ctx, user, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	token, err := c.gateway.TokenizeCard(ctx, customerID, card, holder)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tokenize failed")
		slog.Warn("card tokenization failed", "user_id", userID, "card", card, "error", err)
		return nil, err
	}

	saved := c.storeCard(ctx, userID, customerID, card, token, true)
	if saved == nil {
		return nil, pkgerrors.Persistence("could not save your card, try again", nil)
	}
	slog.Info("card saved", "user_id", userID, "card_id", saved.ID, "last4", saved.Last4, "brand", saved.Brand)
	return saved, nil
}

func (s *cardService) ListCards(ctx context.Context, userID uuid.UUID) ([]models.Card, error) {
	tracer := otel.Tracer("card-service")
	ctx, span := tracer.Start(ctx, "ListCards")
	defer span.End()

	cards, err := s.checkout.cardRepo.ListListable(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, storeError(err)
	}
	return cards, nil
}

func (s *cardService) DeleteCard(ctx context.Context, userID, cardID uuid.UUID) error {
	tracer := otel.Tracer("card-service")
	ctx, span := tracer.Start(ctx, "DeleteCard")
	span.SetAttributes(attribute.String("card_id", cardID.String()))
	defer span.End()

	if err := s.checkout.cardRepo.SoftDelete(ctx, userID, cardID); err != nil {
		span.RecordError(err)
		return storeError(err)
	}
	return nil
}
