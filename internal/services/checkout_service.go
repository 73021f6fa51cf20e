package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/infrastructure/kafka"
	"github.com/honeynil/CheckoutService/internal/infrastructure/redis"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/repository"
	"github.com/honeynil/CheckoutService/internal/session"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
)

// PaymentGateway is the subset of the provider client the checkout needs.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, in gateway.CustomerInput) (*gateway.Customer, error)
	GetCustomer(ctx context.Context, id string) (*gateway.Customer, error)
	UpdateCustomer(ctx context.Context, id string, in gateway.CustomerInput) (*gateway.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	TokenizeCard(ctx context.Context, customerID string, card gateway.CardData, holder gateway.HolderInfo) (*gateway.CardToken, error)
	CreateCharge(ctx context.Context, in gateway.ChargeInput) (*gateway.Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (*gateway.Charge, error)
	GetPixQrCode(ctx context.Context, chargeID string) (*gateway.PixQrCode, error)
	GetBoletoIdentificationLine(ctx context.Context, chargeID string) gateway.IdentificationLine
}

type CheckoutService interface {
	EnsureCustomer(ctx context.Context, userID uuid.UUID, profile CustomerProfile) (*models.User, error)
	DeleteCustomer(ctx context.Context, userID uuid.UUID) error
	Session(ctx context.Context, userID uuid.UUID) (*session.Session, error)

	EnsureTransaction(ctx context.Context, userID uuid.UUID, in TransactionInput) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, txID uuid.UUID, in TransactionInput) (*models.Transaction, error)
	PendingTransaction(ctx context.Context, userID uuid.UUID) (*models.Transaction, error)

	PayWithPix(ctx context.Context, userID uuid.UUID, txID *uuid.UUID) (*PixPayment, error)
	PayWithBoleto(ctx context.Context, userID uuid.UUID, txID *uuid.UUID) (*BoletoPayment, error)
	PayWithCard(ctx context.Context, userID uuid.UUID, in CardPaymentInput) (*CardPayment, error)

	CheckStatus(ctx context.Context, userID, txID uuid.UUID) (*StatusResult, error)
	FinalizeTransaction(ctx context.Context, userID, txID uuid.UUID) (*StatusResult, error)
	Reconcile(ctx context.Context, txID uuid.UUID) (*StatusResult, error)
	ApplyChargeStatus(ctx context.Context, chargeID, status string) (*StatusResult, error)
	CancelPolling(ctx context.Context, userID, txID uuid.UUID) error
}

type Config struct {
	Product         models.Product
	GrantValidity   time.Duration
	BoletoDueDays   int
	PollInterval    time.Duration
	PollAttempts    int
	MaxInstallments int
	FingerprintKey  []byte
}

type checkoutService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	cardRepo        repository.CardRepository
	gateway         PaymentGateway
	sessions        session.Store
	redisClient     redis.RedisClient
	accessProducer  kafka.KafkaProducer
	pollers         *PollerRegistry
	cfg             Config
	now             func() time.Time
}

func NewCheckoutService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	cardRepo repository.CardRepository,
	gw PaymentGateway,
	sessions session.Store,
	redisClient redis.RedisClient,
	accessProducer kafka.KafkaProducer,
	pollers *PollerRegistry,
	cfg Config,
) *checkoutService {
	if pollers == nil {
		pollers = NewPollerRegistry()
	}
	return &checkoutService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		cardRepo:        cardRepo,
		gateway:         gw,
		sessions:        sessions,
		redisClient:     redisClient,
		accessProducer:  accessProducer,
		pollers:         pollers,
		cfg:             cfg,
		now:             time.Now,
	}
}

// storeError classifies a repository failure on the primary path.
func storeError(err error) error {
	switch {
	case stderrors.Is(err, pkgerrors.ErrUserNotFound):
		return pkgerrors.NotFound("customer profile not found, fill in your details first", err)
	case stderrors.Is(err, pkgerrors.ErrTransactionNotFound):
		return pkgerrors.NotFound("order not found", err)
	case stderrors.Is(err, pkgerrors.ErrCardNotFound):
		return pkgerrors.NotFound("card not found", err)
	case stderrors.Is(err, pkgerrors.ErrPurchaseNotFound):
		return pkgerrors.NotFound("access not found", err)
	case stderrors.Is(err, pkgerrors.ErrTransactionClosed):
		return pkgerrors.Validation("order is already closed, start a new checkout")
	default:
		return pkgerrors.Persistence("could not save your order, try again", err)
	}
}

func (s *checkoutService) saveSession(ctx context.Context, userID uuid.UUID, mutate func(*session.Session)) {
	if s.sessions == nil {
		return
	}
	sess, err := s.sessions.Load(ctx, userID)
	if err != nil {
		slog.Warn("failed to load session", "user_id", userID, "error", err)
	}
	if sess == nil {
		sess = &session.Session{UserID: userID}
	}
	mutate(sess)
	if err := s.sessions.Save(ctx, sess); err != nil {
		slog.Warn("failed to save session", "user_id", userID, "error", err)
	}
}

func (s *checkoutService) clearSession(ctx context.Context, userID uuid.UUID) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.Clear(ctx, userID); err != nil {
		slog.Warn("failed to clear session", "user_id", userID, "error", err)
	}
}

func isNotFound(err error) bool {
	return stderrors.Is(err, pkgerrors.ErrNotFound)
}
