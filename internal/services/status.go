package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/fulfillment"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/session"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const publishTimeout = 10 * time.Second

type StatusResult struct {
	Transaction        *models.Transaction         `json:"transaction"`
	Grant              *models.Purchase            `json:"grant,omitempty"`
	Polling            bool                        `json:"polling"`
	IdentificationLine *gateway.IdentificationLine `json:"identification_line,omitempty"`
}

// applyStatus moves tx to status. From PENDING, success statuses finalize and
// return the grant and negative terminals are stored. A paid transaction only
// moves on to REFUNDED and keeps its grant; a closed one never changes again.
func (s *checkoutService) applyStatus(ctx context.Context, tx *models.Transaction, status models.TransactionStatus) (*models.Purchase, error) {
	switch {
	case tx.Status.IsSuccess():
		switch {
		case status.IsSuccess():
			return s.finalize(ctx, tx, status)
		case status == models.StatusRefunded:
			return nil, s.closeTransaction(ctx, tx, status)
		default:
			slog.Warn("ignoring status for paid transaction", "transaction_id", tx.ID, "current", tx.Status, "status", status)
			return nil, nil
		}

	case tx.Status.IsTerminal():
		if tx.Status != status {
			slog.Warn("ignoring status for closed transaction", "transaction_id", tx.ID, "current", tx.Status, "status", status)
		}
		return nil, nil

	case status.IsSuccess():
		return s.finalize(ctx, tx, status)

	case status.IsTerminal():
		return nil, s.closeTransaction(ctx, tx, status)

	default:
		return nil, nil
	}
}

func (s *checkoutService) closeTransaction(ctx context.Context, tx *models.Transaction, status models.TransactionStatus) error {
	if err := s.transactionRepo.Update(ctx, tx.ID, models.TransactionUpdate{Status: &status}); err != nil {
		slog.Error("failed to store terminal status", "transaction_id", tx.ID, "status", status, "error", err)
		return storeError(err)
	}
	previous := tx.Status
	tx.Status = status
	if previous.IsSuccess() {
		slog.Warn("paid transaction refunded, grant kept", "transaction_id", tx.ID, "previous", previous)
		return nil
	}
	slog.Info("transaction closed without payment", "transaction_id", tx.ID, "status", status)
	return nil
}

// finalize is idempotent: an already finalized transaction returns its grant
// without extending it again or publishing a second event.
func (s *checkoutService) finalize(ctx context.Context, tx *models.Transaction, status models.TransactionStatus) (*models.Purchase, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "Finalize")
	span.SetAttributes(attribute.String("transaction_id", tx.ID.String()), attribute.String("status", string(status)))
	defer span.End()

	res, err := s.transactionRepo.Finalize(ctx, tx.ID, status, s.cfg.GrantValidity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		slog.Error("failed to finalize transaction", "transaction_id", tx.ID, "error", err)
		return nil, storeError(err)
	}
	if res.Transaction != nil {
		tx.Status = res.Transaction.Status
		tx.UpdatedAt = res.Transaction.UpdatedAt
	} else {
		tx.Status = status
	}

	if res.AlreadyFinalized {
		return res.Purchase, nil
	}

	s.saveSession(ctx, tx.UserID, func(sess *session.Session) {
		sess.TransactionID = nil
	})
	s.publishAccessGranted(ctx, tx, res.Purchase)

	slog.Info("access granted", "transaction_id", tx.ID, "user_id", tx.UserID, "status", status)
	return res.Purchase, nil
}

// publishAccessGranted hands the event to kafka in the background. Delivery
// failures are logged only.
func (s *checkoutService) publishAccessGranted(ctx context.Context, tx *models.Transaction, grant *models.Purchase) {
	if s.accessProducer == nil || grant == nil {
		return
	}
	event := fulfillment.AccessGranted{
		UserID:        tx.UserID,
		Email:         tx.Metadata.Email,
		Name:          tx.Metadata.Name,
		ProductID:     tx.ProductID,
		TransactionID: tx.ID,
		GrantID:       grant.ID,
		EndDate:       grant.EndDate,
		GrantedAt:     s.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal access event", "transaction_id", tx.ID, "error", err)
		return
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(bg, publishTimeout)
		defer cancel()
		if err := s.accessProducer.Send(sendCtx, tx.UserID.String(), payload); err != nil {
			slog.Error("failed to publish access event", "transaction_id", tx.ID, "error", err)
		}
	}()
}

// refresh asks the gateway for the charge status and applies it.
func (s *checkoutService) refresh(ctx context.Context, tx *models.Transaction) (*StatusResult, error) {
	result := &StatusResult{Transaction: tx}
	if tx.GatewayPaymentID == nil || *tx.GatewayPaymentID == "" {
		return result, nil
	}
	chargeID := *tx.GatewayPaymentID

	if tx.Status.IsSuccess() {
		grant, err := s.finalize(ctx, tx, tx.Status)
		if err != nil {
			return nil, err
		}
		result.Grant = grant
		return result, nil
	}

	charge, err := s.gateway.GetChargeStatus(ctx, chargeID)
	if err != nil {
		slog.Error("failed to fetch charge status", "transaction_id", tx.ID, "charge_id", chargeID, "error", err)
		return nil, err
	}
	grant, err := s.applyStatus(ctx, tx, charge.Status)
	if err != nil {
		return nil, err
	}
	result.Grant = grant

	if tx.Status == models.StatusPending {
		if _, ok := s.pollers.Get(tx.ID); ok {
			result.Polling = true
		}
		if tx.PaymentMethod == models.MethodBoleto {
			line := s.boletoLine(ctx, chargeID)
			result.IdentificationLine = &line
		}
	}
	return result, nil
}

// CheckStatus is the manual status check for boleto and for PIX after the
// poller gave up.
func (s *checkoutService) CheckStatus(ctx context.Context, userID, txID uuid.UUID) (*StatusResult, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "CheckStatus")
	span.SetAttributes(attribute.String("transaction_id", txID.String()))
	defer span.End()

	tx, err := s.ownedTransaction(ctx, userID, txID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result, err := s.refresh(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status check failed")
		return nil, err
	}
	return result, nil
}

// FinalizeTransaction finalizes only when the gateway reports a success status.
func (s *checkoutService) FinalizeTransaction(ctx context.Context, userID, txID uuid.UUID) (*StatusResult, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "FinalizeTransaction")
	span.SetAttributes(attribute.String("transaction_id", txID.String()))
	defer span.End()

	tx, err := s.ownedTransaction(ctx, userID, txID)
	if err != nil {
		return nil, err
	}
	if tx.GatewayPaymentID == nil {
		return nil, pkgerrors.Validation("order has no payment yet")
	}
	result, err := s.refresh(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !result.Transaction.Status.IsSuccess() {
		return nil, pkgerrors.Validation("payment not confirmed yet")
	}
	s.pollers.Cancel(tx.ID)
	return result, nil
}

// Reconcile re-reads the charge of any transaction. Used by operators.
func (s *checkoutService) Reconcile(ctx context.Context, txID uuid.UUID) (*StatusResult, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "Reconcile")
	span.SetAttributes(attribute.String("transaction_id", txID.String()))
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, storeError(err)
	}
	return s.refresh(ctx, tx)
}

// ApplyChargeStatus handles a provider callback for chargeID. Unknown
// statuses and unknown charges are ignored.
func (s *checkoutService) ApplyChargeStatus(ctx context.Context, chargeID, rawStatus string) (*StatusResult, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "ApplyChargeStatus")
	span.SetAttributes(attribute.String("charge_id", chargeID), attribute.String("status", rawStatus))
	defer span.End()

	status, known := models.ParseTransactionStatus(rawStatus)
	if !known {
		slog.Info("ignoring unknown charge status", "charge_id", chargeID, "status", rawStatus)
		return nil, nil
	}

	tx, err := s.transactionRepo.GetByGatewayPaymentID(ctx, chargeID)
	if err != nil {
		if isNotFound(storeError(err)) {
			slog.Warn("callback for unknown charge", "charge_id", chargeID)
			return nil, nil
		}
		return nil, storeError(err)
	}

	grant, err := s.applyStatus(ctx, tx, status)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tx.Status.IsTerminal() {
		s.pollers.Cancel(tx.ID)
	}
	return &StatusResult{Transaction: tx, Grant: grant}, nil
}

func (s *checkoutService) CancelPolling(ctx context.Context, userID, txID uuid.UUID) error {
	if _, err := s.ownedTransaction(ctx, userID, txID); err != nil {
		return err
	}
	if !s.pollers.Cancel(txID) {
		return pkgerrors.NotFound("no status check running for this order", nil)
	}
	slog.Info("pix polling cancelled", "transaction_id", txID, "user_id", userID)
	return nil
}

// startPixPolling runs the poller detached from the request lifetime.
func (s *checkoutService) startPixPolling(ctx context.Context, txID uuid.UUID, chargeID string) {
	check := func(ctx context.Context) (bool, error) {
		charge, err := s.gateway.GetChargeStatus(ctx, chargeID)
		if err != nil {
			return false, err
		}
		if !charge.Status.IsTerminal() {
			return false, nil
		}
		tx, err := s.transactionRepo.GetByID(ctx, txID)
		if err != nil {
			return false, err
		}
		if _, err := s.applyStatus(ctx, tx, charge.Status); err != nil {
			return false, err
		}
		return true, nil
	}
	s.pollers.Start(context.WithoutCancel(ctx), txID, s.cfg.PollInterval, s.cfg.PollAttempts, check)
}
