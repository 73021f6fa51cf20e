// Package gateway is the HTTP client for the payment provider. It maps domain
// requests onto provider endpoints and normalizes every failure into the
// pkg/errors taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/honeynil/CheckoutService/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	accessTokenHeader = "access_token"
	accessTokenPrefix = "$aact_"
	maxResponseBytes  = 1 << 20
	defaultTimeout    = 30 * time.Second
)

// MinimumAmount is the provider floor for boleto and credit card charges.
var MinimumAmount = decimal.NewFromInt(5)

type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	// PixCustomerID is the shared receiving customer every PIX charge is issued against.
	PixCustomerID string
}

type Client struct {
	baseURL       string
	accessToken   string
	pixCustomerID string
	httpClient    *http.Client
}

// NewClient builds a client. A nil httpClient gets a default one bounded by cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:   cfg.AccessToken,
		pixCustomerID: cfg.PixCustomerID,
		httpClient:    httpClient,
	}
}

func (c *Client) checkAccessToken() error {
	token := c.accessToken
	if token == "" || !strings.HasPrefix(token, accessTokenPrefix) || strings.ContainsAny(token, " \t\r\n") {
		return pkgerrors.Configuration("payment provider is not configured")
	}
	return nil
}

// do performs one provider call. out may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	tracer := otel.Tracer("payment-gateway")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.String("http.method", method), attribute.String("gateway.path", path))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.GatewayCalls.WithLabelValues(op, status).Inc()
		observability.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if err = c.checkAccessToken(); err != nil {
		slog.Error("gateway call refused", "op", op, "error", err)
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			err = pkgerrors.Gateway("failed to encode payment provider request", marshalErr)
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if reqErr != nil {
		err = pkgerrors.Gateway("failed to build payment provider request", reqErr)
		return err
	}
	req.Header.Set(accessTokenHeader, c.accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "checkout-service")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		slog.Error("payment provider unreachable", "op", op, "error", doErr)
		err = pkgerrors.Gateway("payment provider unavailable", doErr)
		return err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		err = pkgerrors.Gateway("failed to read payment provider response", readErr)
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp.StatusCode, raw)
		slog.Warn("payment provider returned error", "op", op, "status", resp.StatusCode, "code", apiErr.Code())
		err = classify(apiErr)
		return err
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if jsonErr := json.Unmarshal(raw, out); jsonErr != nil {
		err = pkgerrors.Gateway("unexpected payment provider response", jsonErr)
		return err
	}
	return nil
}

// classify maps a provider error onto the caller-facing taxonomy.
func classify(apiErr *APIError) error {
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return pkgerrors.Auth("payment provider rejected the credentials", apiErr)
	case apiErr.StatusCode == http.StatusNotFound:
		return pkgerrors.NotFound("resource not found at payment provider", apiErr)
	case apiErr.Has(CodeInvalidCreditCard):
		return pkgerrors.Card("card was declined, check the card data or use another card", apiErr)
	case apiErr.Has(CodeInvalidValue):
		return pkgerrors.Validation("amount not accepted by payment provider")
	default:
		return pkgerrors.Gateway("payment provider rejected the request", apiErr)
	}
}

// IsInvalidCard reports whether err carries the provider's invalid card/token code.
func IsInvalidCard(err error) bool {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	return apiErr.Has(CodeInvalidCreditCard)
}

func pathID(prefix, id string) (string, error) {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/?#") {
		return "", pkgerrors.Validation(fmt.Sprintf("invalid %s id", prefix))
	}
	return id, nil
}
