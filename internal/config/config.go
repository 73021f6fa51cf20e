package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTP        HTTP
	Log         Log
	PostgresDSN string `env:"POSTGRES_DSN" env-default:"host=localhost user=postgres password=postgres dbname=checkout sslmode=disable"`
	RedisAddr   string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Kafka       Kafka
	JWTSecret   string `env:"JWT_SECRET" env-required:"true"`
	Gateway     Gateway
	Checkout    Checkout
	Fulfillment Fulfillment
	Tracing     Tracing
}

type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"45s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type Log struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic   string   `env:"KAFKA_ACCESS_TOPIC" env-default:"access-granted"`
	GroupID string   `env:"KAFKA_GROUP_ID" env-default:"checkout-fulfillment"`
}

type Gateway struct {
	BaseURL       string        `env:"GATEWAY_BASE_URL" env-default:"https://sandbox.asaas.com/api/v3"`
	AccessToken   string        `env:"GATEWAY_ACCESS_TOKEN"`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" env-default:"30s"`
	PixCustomerID string        `env:"GATEWAY_PIX_CUSTOMER_ID"`
	WebhookToken  string        `env:"GATEWAY_WEBHOOK_TOKEN"`
}

type Checkout struct {
	ProductID       string        `env:"PRODUCT_ID" env-default:"course"`
	ProductName     string        `env:"PRODUCT_NAME" env-default:"Course access"`
	ProductPriceRaw string        `env:"PRODUCT_PRICE" env-default:"97.00"`
	GrantValidity   time.Duration `env:"GRANT_VALIDITY" env-default:"8760h"`
	BoletoDueDays   int           `env:"BOLETO_DUE_DAYS" env-default:"3"`
	PollInterval    time.Duration `env:"PIX_POLL_INTERVAL" env-default:"15s"`
	PollAttempts    int           `env:"PIX_POLL_ATTEMPTS" env-default:"20"`
	MaxInstallments int           `env:"MAX_INSTALLMENTS" env-default:"12"`
	FingerprintKey  string        `env:"CARD_FINGERPRINT_KEY" env-required:"true"`
	SessionTTL      time.Duration `env:"SESSION_TTL" env-default:"24h"`

	productPrice decimal.Decimal
}

// ProductPrice is PRODUCT_PRICE parsed and rounded by Validate.
func (c Checkout) ProductPrice() decimal.Decimal {
	return c.productPrice
}

type Fulfillment struct {
	WebhookURL string        `env:"FULFILLMENT_WEBHOOK_URL"`
	Token      string        `env:"FULFILLMENT_TOKEN"`
	Timeout    time.Duration `env:"FULFILLMENT_TIMEOUT" env-default:"10s"`
}

type Tracing struct {
	ServiceName  string `env:"SERVICE_NAME" env-default:"checkout-service"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment", "error", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTP.Addr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.Kafka.Brokers,
		"gateway_base_url", cfg.Gateway.BaseURL,
		"product_id", cfg.Checkout.ProductID)
	return &cfg, nil
}

// Validate parses derived fields and checks cross-field constraints. The
// gateway token is not required here; the gateway client rejects calls when it
// is missing.
func (c *Config) Validate() error {
	price, err := decimal.NewFromString(strings.TrimSpace(c.Checkout.ProductPriceRaw))
	if err != nil {
		return fmt.Errorf("invalid PRODUCT_PRICE %q: %w", c.Checkout.ProductPriceRaw, err)
	}
	if !price.IsPositive() {
		return errors.New("PRODUCT_PRICE must be positive")
	}
	c.Checkout.productPrice = price.Round(2)

	if c.Checkout.PollAttempts < 1 {
		return errors.New("PIX_POLL_ATTEMPTS must be at least 1")
	}
	if c.Checkout.PollInterval <= 0 {
		return errors.New("PIX_POLL_INTERVAL must be positive")
	}
	if c.Checkout.GrantValidity <= 0 {
		return errors.New("GRANT_VALIDITY must be positive")
	}
	if c.Checkout.MaxInstallments < 1 {
		return errors.New("MAX_INSTALLMENTS must be at least 1")
	}
	if c.Checkout.BoletoDueDays < 1 {
		return errors.New("BOLETO_DUE_DAYS must be at least 1")
	}
	if n := len(c.Checkout.FingerprintKey); n < 16 || n > 64 {
		return errors.New("CARD_FINGERPRINT_KEY must be between 16 and 64 bytes")
	}
	return nil
}
