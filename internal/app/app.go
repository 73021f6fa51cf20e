// Package app wires configuration into repositories, clients and services.
// The HTTP server and the operator CLI build the same graph.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/honeynil/CheckoutService/internal/api"
	"github.com/honeynil/CheckoutService/internal/config"
	"github.com/honeynil/CheckoutService/internal/fulfillment"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/handler"
	"github.com/honeynil/CheckoutService/internal/infrastructure/kafka"
	"github.com/honeynil/CheckoutService/internal/infrastructure/redis"
	"github.com/honeynil/CheckoutService/internal/models"
	repository "github.com/honeynil/CheckoutService/internal/repository/postgres"
	service "github.com/honeynil/CheckoutService/internal/services"
	"github.com/honeynil/CheckoutService/internal/session"
	_ "github.com/lib/pq"
)

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Redis    *redis.Client
	Producer *kafka.Producer
	Pollers  *service.PollerRegistry

	Checkout service.CheckoutService
	Cards    service.CardService
	Access   service.AccessService
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// init conn to Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		slog.Error("failed to ping postgres", "error", err)
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// init redis
	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	// init repositories
	userRepo := repository.NewPostgresUserRepository(db)
	transactionRepo := repository.NewPostgresTransactionRepository(db)
	purchaseRepo := repository.NewPostgresPurchaseRepository(db)
	cardRepo := repository.NewPostgresCardRepository(db)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		AccessToken:   cfg.Gateway.AccessToken,
		Timeout:       cfg.Gateway.Timeout,
		PixCustomerID: cfg.Gateway.PixCustomerID,
	}, nil)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	pollers := service.NewPollerRegistry()
	sessions := session.NewRedisStore(redisClient, cfg.Checkout.SessionTTL)

	// init services
	checkout := service.NewCheckoutService(
		userRepo,
		transactionRepo,
		cardRepo,
		gw,
		sessions,
		redisClient,
		producer,
		pollers,
		CheckoutConfig(cfg),
	)

	return &App{
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Producer: producer,
		Pollers:  pollers,
		Checkout: checkout,
		Cards:    service.NewCardService(checkout),
		Access:   service.NewAccessService(purchaseRepo, transactionRepo, cfg.Checkout.ProductID, cfg.Checkout.GrantValidity),
	}, nil
}

// CheckoutConfig maps the env config onto the orchestrator settings.
func CheckoutConfig(cfg *config.Config) service.Config {
	c := cfg.Checkout
	return service.Config{
		Product: models.Product{
			ID:    c.ProductID,
			Name:  c.ProductName,
			Price: c.ProductPrice(),
		},
		GrantValidity:   c.GrantValidity,
		BoletoDueDays:   c.BoletoDueDays,
		PollInterval:    c.PollInterval,
		PollAttempts:    c.PollAttempts,
		MaxInstallments: c.MaxInstallments,
		FingerprintKey:  []byte(c.FingerprintKey),
	}
}

// Router builds the HTTP handler tree.
func (a *App) Router(metricsHandler http.Handler) http.Handler {
	health := map[string]handler.HealthCheck{
		"postgres": a.DB.PingContext,
		"redis":    a.Redis.Ping,
	}
	h := handler.NewHandler(a.Checkout, a.Cards, a.Access, a.Config.Gateway.WebhookToken, health)
	return api.SetupRouter(h, a.Config.JWTSecret, metricsHandler)
}

// FulfillmentConsumer reads access-granted events and forwards them to the
// fulfillment webhook.
func (a *App) FulfillmentConsumer() *kafka.Consumer {
	f := a.Config.Fulfillment
	notifier := fulfillment.NewWebhookNotifier(f.WebhookURL, f.Token, f.Timeout)
	return kafka.NewConsumer(a.Config.Kafka.Brokers, a.Config.Kafka.Topic, a.Config.Kafka.GroupID, fulfillment.NewHandler(notifier))
}

// Close stops pollers first, then releases connections.
func (a *App) Close(ctx context.Context) {
	a.Pollers.Shutdown(ctx)

	if err := a.Producer.Close(); err != nil {
		slog.Error("failed to close kafka producer", "error", err)
	}
	if err := a.Redis.Close(); err != nil {
		slog.Error("failed to close redis", "error", err)
	}
	if err := a.DB.Close(); err != nil {
		slog.Error("failed to close postgres", "error", err)
	}
}
