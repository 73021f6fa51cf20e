package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/session"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type CustomerProfile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	CpfCnpj string `json:"cpf_cnpj"`
	Phone   string `json:"phone"`
}

func (p CustomerProfile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return pkgerrors.Validation("name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(p.Email)); err != nil {
		return pkgerrors.Validation("a valid email is required")
	}
	switch len(models.OnlyDigits(p.CpfCnpj)) {
	case 11, 14:
	default:
		return pkgerrors.Validation("cpf must have 11 digits or cnpj 14 digits")
	}
	return nil
}

func customerInput(u *models.User) gateway.CustomerInput {
	return gateway.CustomerInput{
		Name:              u.Name,
		Email:             u.Email,
		CpfCnpj:           u.CpfCnpj,
		MobilePhone:       u.Phone,
		ExternalReference: u.ID.String(),
	}
}

// EnsureCustomer stores the buyer profile and makes sure a live gateway
// customer mirrors it.
func (s *checkoutService) EnsureCustomer(ctx context.Context, userID uuid.UUID, profile CustomerProfile) (*models.User, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "EnsureCustomer")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()

	if err := profile.validate(); err != nil {
		span.SetStatus(codes.Error, "invalid profile")
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		slog.Error("failed to load user", "user_id", userID, "error", err)
		return nil, storeError(err)
	}

	next := &models.User{
		ID:         userID,
		Name:       strings.TrimSpace(profile.Name),
		Email:      strings.ToLower(strings.TrimSpace(profile.Email)),
		CpfCnpj:    models.OnlyDigits(profile.CpfCnpj),
		Phone:      models.OnlyDigits(profile.Phone),
		PersonType: models.PersonTypeFor(profile.CpfCnpj),
	}
	changed := user == nil || user.Name != next.Name || user.Email != next.Email ||
		user.CpfCnpj != next.CpfCnpj || user.Phone != next.Phone
	if user != nil {
		next.GatewayCustomerID = user.GatewayCustomerID
	}

	if changed {
		if err := s.userRepo.Upsert(ctx, next); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "user upsert failed")
			slog.Error("failed to save user", "user_id", userID, "error", err)
			return nil, storeError(err)
		}
	} else {
		next = user
	}

	if _, err := s.ensureGatewayCustomer(ctx, next, changed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway customer failed")
		return nil, err
	}

	s.saveSession(ctx, userID, func(sess *session.Session) {
		sess.Name = next.Name
		sess.Email = next.Email
		sess.CpfCnpj = next.CpfCnpj
		sess.Phone = next.Phone
		sess.GatewayCustomerID = next.GatewayCustomerID
	})

	slog.Info("customer ensured", "user_id", userID, "gateway_customer_id", next.GatewayCustomerID, "profile_changed", changed)
	return next, nil
}

// ensureGatewayCustomer returns the live gateway customer id for user,
// creating one when none is stored or the stored one was deleted at the
// provider. user.GatewayCustomerID is updated in place.
func (s *checkoutService) ensureGatewayCustomer(ctx context.Context, user *models.User, profileChanged bool) (string, error) {
	if id := user.GatewayCustomerID; id != "" {
		existing, err := s.gateway.GetCustomer(ctx, id)
		if err != nil {
			slog.Error("failed to verify gateway customer", "user_id", user.ID, "gateway_customer_id", id, "error", err)
			return "", err
		}

		if existing != nil && !existing.Deleted {
			if !profileChanged {
				return id, nil
			}
			_, err := s.gateway.UpdateCustomer(ctx, id, customerInput(user))
			if err == nil {
				return id, nil
			}
			if !stderrors.Is(err, pkgerrors.ErrNotFound) {
				slog.Error("failed to update gateway customer", "user_id", user.ID, "gateway_customer_id", id, "error", err)
				return "", err
			}
		}

		slog.Warn("gateway customer deleted at provider, recreating", "user_id", user.ID, "gateway_customer_id", id)
		if err := s.userRepo.SetGatewayCustomerID(ctx, user.ID, ""); err != nil {
			slog.Error("failed to clear gateway customer reference", "user_id", user.ID, "error", err)
			return "", storeError(err)
		}
		user.GatewayCustomerID = ""
		s.clearSession(ctx, user.ID)
	}

	created, err := s.gateway.CreateCustomer(ctx, customerInput(user))
	if err != nil {
		slog.Error("failed to create gateway customer", "user_id", user.ID, "error", err)
		return "", err
	}
	if err := s.userRepo.SetGatewayCustomerID(ctx, user.ID, created.ID); err != nil {
		slog.Error("failed to store gateway customer reference", "user_id", user.ID, "gateway_customer_id", created.ID, "error", err)
		return "", storeError(err)
	}
	user.GatewayCustomerID = created.ID
	return created.ID, nil
}

// DeleteCustomer removes the buyer at the provider and clears the stored
// reference and session.
func (s *checkoutService) DeleteCustomer(ctx context.Context, userID uuid.UUID) error {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "DeleteCustomer")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return storeError(err)
	}
	if user.GatewayCustomerID == "" {
		slog.Info("no gateway customer to delete", "user_id", userID)
		s.clearSession(ctx, userID)
		return nil
	}

	if err := s.gateway.DeleteCustomer(ctx, user.GatewayCustomerID); err != nil && !stderrors.Is(err, pkgerrors.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway delete failed")
		return err
	}
	if err := s.userRepo.SetGatewayCustomerID(ctx, userID, ""); err != nil {
		span.RecordError(err)
		return storeError(err)
	}
	s.clearSession(ctx, userID)

	slog.Info("gateway customer deleted", "user_id", userID, "gateway_customer_id", user.GatewayCustomerID)
	return nil
}
