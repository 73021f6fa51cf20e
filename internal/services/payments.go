package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/infrastructure/observability"
	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/blake2b"
)

const boletoLineKeyPrefix = "checkout:boleto:"

type PixPayment struct {
	Transaction *models.Transaction `json:"transaction"`
	ChargeID    string              `json:"charge_id"`
	QrCode      *gateway.PixQrCode  `json:"qr_code"`
	Polling     bool                `json:"polling"`
}

type BoletoPayment struct {
	Transaction        *models.Transaction        `json:"transaction"`
	ChargeID           string                     `json:"charge_id"`
	BankSlipURL        string                     `json:"bank_slip_url"`
	InvoiceURL         string                     `json:"invoice_url"`
	DueDate            string                     `json:"due_date"`
	IdentificationLine gateway.IdentificationLine `json:"identification_line"`
}

type CardPaymentInput struct {
	TransactionID *uuid.UUID         `json:"transaction_id,omitempty"`
	Card          gateway.CardData   `json:"card"`
	Holder        gateway.HolderInfo `json:"holder"`
	Installments  int                `json:"installments"`
	SaveCard      bool               `json:"save_card"`
	RemoteIP      string             `json:"-"`
}

type CardPayment struct {
	Transaction *models.Transaction      `json:"transaction"`
	ChargeID    string                   `json:"charge_id"`
	Status      models.TransactionStatus `json:"status"`
	Grant       *models.Purchase         `json:"grant,omitempty"`
}

// prepare loads the transaction to charge, switches it to method and checks
// the amount floor. Nothing here talks to the gateway.
func (s *checkoutService) prepare(ctx context.Context, userID uuid.UUID, txID *uuid.UUID, method models.PaymentMethod) (*models.User, *models.Transaction, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, storeError(err)
	}

	var tx *models.Transaction
	if txID != nil {
		tx, err = s.ownedTransaction(ctx, userID, *txID)
		if err != nil {
			return nil, nil, err
		}
	} else {
		tx, err = s.transactionRepo.GetPendingForUser(ctx, userID)
		if err != nil {
			return nil, nil, storeError(err)
		}
		if tx == nil {
			return nil, nil, pkgerrors.NotFound("no pending order, start the checkout again", nil)
		}
	}

	if tx.Status != models.StatusPending {
		return nil, nil, pkgerrors.Validation("order is no longer pending")
	}
	if err := checkAmount(method, tx.Amount); err != nil {
		return nil, nil, err
	}

	if tx.PaymentMethod != method {
		if err := s.transactionRepo.Update(ctx, tx.ID, models.TransactionUpdate{PaymentMethod: &method}); err != nil {
			return nil, nil, storeError(err)
		}
		tx.PaymentMethod = method
	}
	return user, tx, nil
}

func checkAmount(method models.PaymentMethod, amount decimal.Decimal) error {
	value := amount.Round(2)
	if method == models.MethodPix {
		if !value.IsPositive() {
			return pkgerrors.Validation("amount must be greater than zero")
		}
		return nil
	}
	if value.LessThan(gateway.MinimumAmount) {
		return pkgerrors.Validation(fmt.Sprintf("minimum amount for %s is %s", method, gateway.MinimumAmount.StringFixed(2)))
	}
	return nil
}

// attachPayment records the charge on the transaction. Failures are logged
// only; the charge already exists at the provider.
func (s *checkoutService) attachPayment(ctx context.Context, tx *models.Transaction, chargeID, customerID string) {
	upd := models.TransactionUpdate{GatewayPaymentID: &chargeID}
	if customerID != "" {
		upd.GatewayCustomerID = &customerID
	}
	if err := s.transactionRepo.Update(ctx, tx.ID, upd); err != nil {
		slog.Error("failed to attach payment id", "transaction_id", tx.ID, "charge_id", chargeID, "error", err)
		return
	}
	tx.GatewayPaymentID = &chargeID
	if customerID != "" {
		tx.GatewayCustomerID = customerID
	}
}

func (s *checkoutService) chargeDescription() string {
	return s.cfg.Product.Name
}

func (s *checkoutService) PayWithPix(ctx context.Context, userID uuid.UUID, txID *uuid.UUID) (_ *PixPayment, err error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "PayWithPix")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()
	defer func() { s.recordOutcome(models.MethodPix, err) }()

	user, tx, err := s.prepare(ctx, userID, txID, models.MethodPix)
	if err != nil {
		span.SetStatus(codes.Error, "prepare failed")
		return nil, err
	}
	customerID, err := s.ensureGatewayCustomer(ctx, user, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeInput{
		Method:            models.MethodPix,
		Amount:            tx.Amount,
		DueDate:           s.now(),
		Description:       s.chargeDescription(),
		ExternalReference: tx.ID.String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		slog.Error("failed to create pix charge", "transaction_id", tx.ID, "error", err)
		return nil, err
	}
	s.attachPayment(ctx, tx, charge.ID, customerID)

	// no poller without a QR code the buyer can pay
	qr, err := s.gateway.GetPixQrCode(ctx, charge.ID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to fetch pix qr code", "transaction_id", tx.ID, "charge_id", charge.ID, "error", err)
		return nil, err
	}

	result := &PixPayment{Transaction: tx, ChargeID: charge.ID, QrCode: qr}
	if charge.Status.IsTerminal() {
		if _, err := s.applyStatus(ctx, tx, charge.Status); err != nil {
			return nil, err
		}
	} else {
		s.startPixPolling(ctx, tx.ID, charge.ID)
		result.Polling = true
	}

	slog.Info("pix charge created", "transaction_id", tx.ID, "charge_id", charge.ID, "amount", tx.Amount.StringFixed(2))
	return result, nil
}

func (s *checkoutService) PayWithBoleto(ctx context.Context, userID uuid.UUID, txID *uuid.UUID) (_ *BoletoPayment, err error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "PayWithBoleto")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()
	defer func() { s.recordOutcome(models.MethodBoleto, err) }()

	user, tx, err := s.prepare(ctx, userID, txID, models.MethodBoleto)
	if err != nil {
		span.SetStatus(codes.Error, "prepare failed")
		return nil, err
	}
	customerID, err := s.ensureGatewayCustomer(ctx, user, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	due := s.now().AddDate(0, 0, s.cfg.BoletoDueDays)
	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeInput{
		Method:            models.MethodBoleto,
		CustomerID:        customerID,
		Amount:            tx.Amount,
		DueDate:           due,
		Description:       s.chargeDescription(),
		ExternalReference: tx.ID.String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		slog.Error("failed to create boleto charge", "transaction_id", tx.ID, "error", err)
		return nil, err
	}
	s.attachPayment(ctx, tx, charge.ID, customerID)

	line := s.gateway.GetBoletoIdentificationLine(ctx, charge.ID)
	if line.Available {
		s.cacheBoletoLine(ctx, charge.ID, line, due)
	}

	slog.Info("boleto charge created", "transaction_id", tx.ID, "charge_id", charge.ID, "due_date", charge.DueDate)
	return &BoletoPayment{
		Transaction:        tx,
		ChargeID:           charge.ID,
		BankSlipURL:        charge.BankSlipURL,
		InvoiceURL:         charge.InvoiceURL,
		DueDate:            charge.DueDate,
		IdentificationLine: line,
	}, nil
}

func (s *checkoutService) cacheBoletoLine(ctx context.Context, chargeID string, line gateway.IdentificationLine, due time.Time) {
	if s.redisClient == nil {
		return
	}
	payload, err := json.Marshal(line)
	if err != nil {
		slog.Warn("failed to encode boleto line", "charge_id", chargeID, "error", err)
		return
	}
	ttl := time.Until(due.Add(24 * time.Hour))
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.redisClient.Set(ctx, boletoLineKeyPrefix+chargeID, string(payload), ttl); err != nil {
		slog.Warn("failed to cache boleto line", "charge_id", chargeID, "error", err)
	}
}

// boletoLine reads the cached line, falling back to the gateway.
func (s *checkoutService) boletoLine(ctx context.Context, chargeID string) gateway.IdentificationLine {
	if s.redisClient != nil {
		raw, err := s.redisClient.Get(ctx, boletoLineKeyPrefix+chargeID)
		if err == nil {
			var line gateway.IdentificationLine
			if jsonErr := json.Unmarshal([]byte(raw), &line); jsonErr == nil && line.Available {
				return line
			}
		}
	}
	return s.gateway.GetBoletoIdentificationLine(ctx, chargeID)
}

// cardArgs is everything a card charge attempt needs besides the token.
type cardArgs struct {
	tx           *models.Transaction
	customerID   string
	installments int
	remoteIP     string
}

func (s *checkoutService) PayWithCard(ctx context.Context, userID uuid.UUID, in CardPaymentInput) (_ *CardPayment, err error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "PayWithCard")
	span.SetAttributes(attribute.String("user_id", userID.String()))
	defer span.End()
	defer func() { s.recordOutcome(models.MethodCreditCard, err) }()

	installments := in.Installments
	if installments == 0 {
		installments = 1
	}
	if installments < 1 || installments > s.cfg.MaxInstallments {
		return nil, pkgerrors.Validation("invalid number of installments")
	}

	user, tx, err := s.prepare(ctx, userID, in.TransactionID, models.MethodCreditCard)
	if err != nil {
		span.SetStatus(codes.Error, "prepare failed")
		return nil, err
	}
	if tx.Metadata.Installments != installments {
		metadata := tx.Metadata
		metadata.Installments = installments
		if err := s.transactionRepo.Update(ctx, tx.ID, models.TransactionUpdate{Metadata: &metadata}); err != nil {
			return nil, storeError(err)
		}
		tx.Metadata = metadata
	}

	customerID, err := s.ensureGatewayCustomer(ctx, user, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	args := cardArgs{tx: tx, customerID: customerID, installments: installments, remoteIP: in.RemoteIP}
	saved := s.savedCard(ctx, userID, in.Card)

	var token string
	if saved != nil {
		token = saved.Token
	} else {
		fresh, err := s.gateway.TokenizeCard(ctx, customerID, in.Card, in.Holder)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tokenize failed")
			slog.Warn("card tokenization failed", "transaction_id", tx.ID, "card", in.Card, "error", err)
			return nil, err
		}
		token = fresh.Token
		s.storeCard(ctx, userID, customerID, in.Card, fresh, in.SaveCard)
	}

	charge, err := s.chargeWithRetry(ctx, args, token, saved, in.Card, in.Holder)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		slog.Warn("card charge failed", "transaction_id", tx.ID, "card", in.Card, "error", err)
		return nil, err
	}
	s.attachPayment(ctx, tx, charge.ID, customerID)

	result := &CardPayment{Transaction: tx, ChargeID: charge.ID, Status: charge.Status}
	switch {
	case charge.Status.IsSuccess():
		grant, err := s.applyStatus(ctx, tx, charge.Status)
		if err != nil {
			return nil, err
		}
		result.Grant = grant
	case charge.Status.IsTerminal():
		if _, err := s.applyStatus(ctx, tx, charge.Status); err != nil {
			return nil, err
		}
		return nil, pkgerrors.Card("payment was not approved, try another card", nil)
	}

	slog.Info("card charge processed", "transaction_id", tx.ID, "charge_id", charge.ID, "status", charge.Status, "installments", installments)
	return result, nil
}

// chargeWithToken performs one card charge attempt.
func (s *checkoutService) chargeWithToken(ctx context.Context, args cardArgs, token string) (*gateway.Charge, error) {
	return s.gateway.CreateCharge(ctx, gateway.ChargeInput{
		Method:            models.MethodCreditCard,
		CustomerID:        args.customerID,
		Amount:            args.tx.Amount,
		DueDate:           s.now(),
		Description:       s.chargeDescription(),
		ExternalReference: args.tx.ID.String(),
		Card: &gateway.CardChargeOptions{
			Token:            token,
			InstallmentCount: args.installments,
			InstallmentValue: gateway.SplitInstallments(args.tx.Amount, args.installments),
			RemoteIP:         args.remoteIP,
		},
	})
}

// chargeWithRetry charges with token and, when a saved token is rejected as
// invalid, re-tokenizes the raw card, stores the new token over the stale one
// and tries exactly once more.
func (s *checkoutService) chargeWithRetry(ctx context.Context, args cardArgs, token string, saved *models.Card, card gateway.CardData, holder gateway.HolderInfo) (*gateway.Charge, error) {
	charge, err := s.chargeWithToken(ctx, args, token)
	if err == nil || saved == nil || !gateway.IsInvalidCard(err) {
		return charge, err
	}

	slog.Warn("saved card token rejected, re-tokenizing", "transaction_id", args.tx.ID, "card_id", saved.ID, "card", card)
	fresh, err := s.gateway.TokenizeCard(ctx, args.customerID, card, holder)
	if err != nil {
		switch {
		case stderrors.Is(err, pkgerrors.ErrCard):
			return nil, err
		case gateway.IsInvalidCard(err):
			return nil, pkgerrors.Card("could not validate your card, try again", err)
		default:
			return nil, err
		}
	}
	if err := s.cardRepo.UpdateToken(ctx, saved.ID, args.customerID, fresh.Token, fresh.Last4, fresh.Brand); err != nil {
		slog.Error("failed to replace stale card token", "card_id", saved.ID, "error", err)
	}

	charge, err = s.chargeWithToken(ctx, args, fresh.Token)
	if err != nil {
		if gateway.IsInvalidCard(err) || stderrors.Is(err, pkgerrors.ErrCard) {
			return nil, pkgerrors.Card("card was declined, check the card data or use another card", err)
		}
		return nil, err
	}
	return charge, nil
}

func (s *checkoutService) savedCard(ctx context.Context, userID uuid.UUID, card gateway.CardData) *models.Card {
	fp := cardFingerprint(s.cfg.FingerprintKey, card.Number)
	if fp == "" {
		return nil
	}
	saved, err := s.cardRepo.FindByFingerprint(ctx, userID, fp)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrCardNotFound) {
			slog.Warn("saved card lookup failed", "user_id", userID, "error", err)
		}
		return nil
	}
	return saved
}

func (s *checkoutService) storeCard(ctx context.Context, userID uuid.UUID, customerID string, card gateway.CardData, token *gateway.CardToken, listable bool) *models.Card {
	saved := &models.Card{
		UserID:            userID,
		GatewayCustomerID: customerID,
		Last4:             token.Last4,
		Brand:             token.Brand,
		Token:             token.Token,
		Fingerprint:       cardFingerprint(s.cfg.FingerprintKey, card.Number),
		Listable:          listable,
	}
	if err := s.cardRepo.Create(ctx, saved); err != nil {
		slog.Error("failed to save card token", "user_id", userID, "last4", token.Last4, "error", err)
		return nil
	}
	return saved
}

// cardFingerprint is a keyed hash of the PAN digits. An empty or short number yields "".
func cardFingerprint(key []byte, number string) string {
	digits := models.OnlyDigits(number)
	if len(digits) < 12 {
		return ""
	}
	h, err := blake2b.New256(key)
	if err != nil {
		slog.Error("invalid card fingerprint key", "error", err)
		return ""
	}
	h.Write([]byte(digits))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *checkoutService) recordOutcome(method models.PaymentMethod, err error) {
	result := "success"
	switch {
	case err == nil:
	case stderrors.Is(err, pkgerrors.ErrValidation):
		result = "validation_error"
	case stderrors.Is(err, pkgerrors.ErrCard):
		result = "card_error"
	case stderrors.Is(err, pkgerrors.ErrGateway), stderrors.Is(err, pkgerrors.ErrAuth):
		result = "gateway_error"
	default:
		result = "error"
	}
	observability.CheckoutOutcomes.WithLabelValues(string(method), result).Inc()
}
