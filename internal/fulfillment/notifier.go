// Package fulfillment delivers access-granted events to the downstream
// fulfillment system.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// AccessGranted is published after a successful finalize.
type AccessGranted struct {
	UserID        uuid.UUID `json:"user_id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	ProductID     string    `json:"product_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	GrantID       uuid.UUID `json:"grant_id"`
	EndDate       time.Time `json:"end_date"`
	GrantedAt     time.Time `json:"granted_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event AccessGranted) error
}

type WebhookNotifier struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify posts the event. An empty URL disables delivery.
func (n *WebhookNotifier) Notify(ctx context.Context, event AccessGranted) error {
	if n.url == "" {
		slog.Warn("fulfillment webhook not configured, event dropped", "transaction_id", event.TransactionID)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode access event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fulfillment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post fulfillment webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("fulfillment webhook returned status %d", resp.StatusCode)
	}
	slog.Info("fulfillment notified", "transaction_id", event.TransactionID, "user_id", event.UserID)
	return nil
}

// Handler adapts a Notifier to the kafka consumer.
type Handler struct {
	notifier Notifier
}

func NewHandler(notifier Notifier) *Handler {
	return &Handler{notifier: notifier}
}

func (h *Handler) Handle(ctx context.Context, key, value []byte) error {
	var event AccessGranted
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("decode access event %s: %w", key, err)
	}
	return h.notifier.Notify(ctx, event)
}
