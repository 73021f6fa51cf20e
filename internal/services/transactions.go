package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/session"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type TransactionInput struct {
	Method       models.PaymentMethod `json:"payment_method"`
	Installments int                  `json:"installments"`
}

func (s *checkoutService) normalize(in TransactionInput) (TransactionInput, error) {
	if !in.Method.IsValid() {
		return in, pkgerrors.Validation("payment method must be PIX, BOLETO or CREDIT_CARD")
	}
	if in.Method != models.MethodCreditCard || in.Installments == 0 {
		in.Installments = 1
	}
	if in.Installments < 1 || in.Installments > s.cfg.MaxInstallments {
		return in, pkgerrors.Validation("invalid number of installments")
	}
	return in, nil
}

// EnsureTransaction updates the buyer's pending transaction in place or opens
// a new PENDING one. Two concurrent calls may both create; readers always
// pick the latest pending row.
func (s *checkoutService) EnsureTransaction(ctx context.Context, userID uuid.UUID, in TransactionInput) (*models.Transaction, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "EnsureTransaction")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()

	in, err := s.normalize(in)
	if err != nil {
		span.SetStatus(codes.Error, "invalid input")
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, storeError(err)
	}

	product := s.cfg.Product
	metadata := models.TransactionMetadata{
		Name:         user.Name,
		Email:        user.Email,
		Phone:        user.Phone,
		ProductPrice: product.Price,
		Installments: in.Installments,
	}

	pending, err := s.transactionRepo.GetPendingForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pending lookup failed")
		slog.Error("failed to load pending transaction", "user_id", userID, "error", err)
		return nil, storeError(err)
	}

	if pending != nil {
		amount := product.Price
		upd := models.TransactionUpdate{
			ProductID:         &product.ID,
			Amount:            &amount,
			PaymentMethod:     &in.Method,
			GatewayCustomerID: &user.GatewayCustomerID,
			Metadata:          &metadata,
		}
		if err := s.transactionRepo.Update(ctx, pending.ID, upd); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
			slog.Error("failed to update pending transaction", "transaction_id", pending.ID, "error", err)
			return nil, storeError(err)
		}
		pending.ProductID = product.ID
		pending.Amount = amount
		pending.PaymentMethod = in.Method
		pending.GatewayCustomerID = user.GatewayCustomerID
		pending.Metadata = metadata
		s.rememberTransaction(ctx, pending)
		slog.Info("pending transaction reused", "transaction_id", pending.ID, "user_id", userID, "payment_method", in.Method)
		return pending, nil
	}

	tx := &models.Transaction{
		ID:                uuid.New(),
		UserID:            userID,
		ProductID:         product.ID,
		Amount:            product.Price,
		Status:            models.StatusPending,
		PaymentMethod:     in.Method,
		GatewayCustomerID: user.GatewayCustomerID,
		Metadata:          metadata,
	}
	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		slog.Error("failed to create transaction", "user_id", userID, "error", err)
		return nil, storeError(err)
	}
	s.rememberTransaction(ctx, tx)
	slog.Info("transaction created", "transaction_id", tx.ID, "user_id", userID, "payment_method", in.Method)
	return tx, nil
}

// UpdateTransaction switches method or installments on a pending transaction
// owned by userID.
func (s *checkoutService) UpdateTransaction(ctx context.Context, userID, txID uuid.UUID, in TransactionInput) (*models.Transaction, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "UpdateTransaction")
	span.SetAttributes(attribute.String("transaction_id", txID.String()))
	defer span.End()

	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	tx, err := s.ownedTransaction(ctx, userID, txID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tx.Status != models.StatusPending {
		return nil, pkgerrors.Validation("order is no longer pending")
	}

	metadata := tx.Metadata
	metadata.Installments = in.Installments
	upd := models.TransactionUpdate{PaymentMethod: &in.Method, Metadata: &metadata}
	if err := s.transactionRepo.Update(ctx, tx.ID, upd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, storeError(err)
	}
	tx.PaymentMethod = in.Method
	tx.Metadata = metadata
	s.rememberTransaction(ctx, tx)
	return tx, nil
}

// PendingTransaction returns nil when the buyer has no pending transaction.
func (s *checkoutService) PendingTransaction(ctx context.Context, userID uuid.UUID) (*models.Transaction, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "PendingTransaction")
	defer span.End()

	tx, err := s.transactionRepo.GetPendingForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to load pending transaction", "user_id", userID, "error", err)
		return nil, storeError(err)
	}
	return tx, nil
}

// Session returns the cached checkout state, rebuilding it from the store
// when the cache is empty.
func (s *checkoutService) Session(ctx context.Context, userID uuid.UUID) (*session.Session, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "Session")
	defer span.End()

	if s.sessions != nil {
		sess, err := s.sessions.Load(ctx, userID)
		if err != nil {
			slog.Warn("failed to load session", "user_id", userID, "error", err)
		} else if sess != nil {
			return sess, nil
		}
	}

	sess := &session.Session{UserID: userID}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if err := storeError(err); !isNotFound(err) {
			return nil, err
		}
		return sess, nil
	}
	sess.Name = user.Name
	sess.Email = user.Email
	sess.CpfCnpj = user.CpfCnpj
	sess.Phone = user.Phone
	sess.GatewayCustomerID = user.GatewayCustomerID

	pending, err := s.transactionRepo.GetPendingForUser(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	if pending != nil {
		id := pending.ID
		sess.TransactionID = &id
		sess.PaymentMethod = pending.PaymentMethod
		sess.Installments = pending.Metadata.Installments
	}

	if s.sessions != nil {
		if err := s.sessions.Save(ctx, sess); err != nil {
			slog.Warn("failed to save session", "user_id", userID, "error", err)
		}
	}
	return sess, nil
}

func (s *checkoutService) rememberTransaction(ctx context.Context, tx *models.Transaction) {
	s.saveSession(ctx, tx.UserID, func(sess *session.Session) {
		id := tx.ID
		sess.TransactionID = &id
		sess.PaymentMethod = tx.PaymentMethod
		sess.Installments = tx.Metadata.Installments
	})
}

func (s *checkoutService) ownedTransaction(ctx context.Context, userID, txID uuid.UUID) (*models.Transaction, error) {
	tx, err := s.transactionRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, storeError(err)
	}
	if tx.UserID != userID {
		return nil, pkgerrors.NotFound("order not found", nil)
	}
	return tx, nil
}
