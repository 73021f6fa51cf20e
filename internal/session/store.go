// Package session keeps the per-buyer checkout state between requests.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/infrastructure/redis"
	"github.com/honeynil/CheckoutService/internal/models"
)

const keyPrefix = "checkout:session:"

// Session is the cached checkout state of one buyer. It is a convenience
// copy; the store is the source of truth.
type Session struct {
	UserID            uuid.UUID            `json:"user_id"`
	Name              string               `json:"name,omitempty"`
	Email             string               `json:"email,omitempty"`
	CpfCnpj           string               `json:"cpf_cnpj,omitempty"`
	Phone             string               `json:"phone,omitempty"`
	GatewayCustomerID string               `json:"gateway_customer_id,omitempty"`
	TransactionID     *uuid.UUID           `json:"transaction_id,omitempty"`
	PaymentMethod     models.PaymentMethod `json:"payment_method,omitempty"`
	Installments      int                  `json:"installments,omitempty"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

type Store interface {
	Load(ctx context.Context, userID uuid.UUID) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type RedisStore struct {
	client redis.RedisClient
	ttl    time.Duration
}

func NewRedisStore(client redis.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(userID uuid.UUID) string {
	return keyPrefix + userID.String()
}

// Load returns nil, nil when no session is stored.
func (s *RedisStore) Load(ctx context.Context, userID uuid.UUID) (*Session, error) {
	raw, err := s.client.Get(ctx, key(userID))
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		slog.Warn("dropping unreadable session", "user_id", userID, "error", err)
		_ = s.client.Del(ctx, key(userID))
		return nil, nil
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.UserID == uuid.Nil {
		return fmt.Errorf("save session: user id is required")
	}
	sess.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, key(sess.UserID), string(payload), s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, key(userID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	slog.Info("session cleared", "user_id", userID)
	return nil
}
