package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const cardColumns = `id, user_id, gateway_customer_id, last4, brand, token, fingerprint, listable, created_at, updated_at`

type PostgresCardRepository struct {
	db *sql.DB
}

func NewPostgresCardRepository(db *sql.DB) *PostgresCardRepository {
	return &PostgresCardRepository{db: db}
}

func scanCard(row rowScanner) (*models.Card, error) {
	var c models.Card
	err := row.Scan(&c.ID, &c.UserID, &c.GatewayCustomerID, &c.Last4, &c.Brand, &c.Token, &c.Fingerprint, &c.Listable, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a card. A live card with the same fingerprint gets its token
// replaced instead, and becomes listable if the new one is.
func (r *PostgresCardRepository) Create(ctx context.Context, card *models.Card) (err error) {
	ctx, span, finish := startCall(ctx, "card-repository", "CreateCard")
	defer func() { finish(err) }()

	if card == nil {
		err = pkgerrors.ErrNilCard
		return err
	}
	if card.Token == "" || len(card.Last4) != 4 {
		err = fmt.Errorf("card token and last4 are required")
		return err
	}
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	span.SetAttributes(attribute.String("user_id", card.UserID.String()), attribute.String("card_id", card.ID.String()))

	query := `
		INSERT INTO cards (id, user_id, gateway_customer_id, last4, brand, token, fingerprint, listable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, fingerprint) WHERE deleted_at IS NULL DO UPDATE SET
			token = EXCLUDED.token,
			gateway_customer_id = EXCLUDED.gateway_customer_id,
			brand = EXCLUDED.brand,
			listable = cards.listable OR EXCLUDED.listable,
			updated_at = NOW()
		RETURNING id, listable, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		card.ID,
		card.UserID,
		card.GatewayCustomerID,
		card.Last4,
		card.Brand,
		card.Token,
		card.Fingerprint,
		card.Listable,
	).Scan(&card.ID, &card.Listable, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return pkgerrors.ErrUserNotFound
		}
		slog.Error("failed to save card", "method", "Create", "user_id", card.UserID, "error", err)
		return fmt.Errorf("failed to save card: %w", err)
	}

	slog.Info("card saved", "method", "Create", "card_id", card.ID, "user_id", card.UserID, "last4", card.Last4, "brand", card.Brand)
	return nil
}

func (r *PostgresCardRepository) UpdateToken(ctx context.Context, id uuid.UUID, customerID, token, last4, brand string) (err error) {
	ctx, span, finish := startCall(ctx, "card-repository", "UpdateCardToken")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("card_id", id.String()))

	if token == "" || customerID == "" {
		err = fmt.Errorf("card token and gateway customer are required")
		return err
	}

	query := `UPDATE cards SET token = $1, gateway_customer_id = $2, last4 = COALESCE(NULLIF($3, ''), last4), brand = COALESCE(NULLIF($4, ''), brand), updated_at = NOW() WHERE id = $5 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, token, customerID, last4, brand, id)
	if err != nil {
		slog.Error("failed to update card token", "method", "UpdateToken", "card_id", id, "error", err)
		return fmt.Errorf("failed to update card token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrCardNotFound
		return err
	}

	slog.Info("card token replaced", "method", "UpdateToken", "card_id", id, "gateway_customer_id", customerID)
	return nil
}

func (r *PostgresCardRepository) ListListable(ctx context.Context, userID uuid.UUID) (_ []models.Card, err error) {
	ctx, span, finish := startCall(ctx, "card-repository", "ListListableCards")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	query := `SELECT ` + cardColumns + ` FROM cards WHERE user_id = $1 AND listable = TRUE AND deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to list cards", "method", "ListListable", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	cards := make([]models.Card, 0)
	for rows.Next() {
		c, scanErr := scanCard(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan card: %w", scanErr)
			return nil, err
		}
		cards = append(cards, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return cards, nil
}

func (r *PostgresCardRepository) FindByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (_ *models.Card, err error) {
	ctx, span, finish := startCall(ctx, "card-repository", "FindCardByFingerprint")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	query := `SELECT ` + cardColumns + ` FROM cards WHERE user_id = $1 AND fingerprint = $2 AND deleted_at IS NULL`
	c, err := scanCard(r.db.QueryRowContext(ctx, query, userID, fingerprint))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrCardNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to find card", "method", "FindByFingerprint", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return c, nil
}

func (r *PostgresCardRepository) SoftDelete(ctx context.Context, userID, id uuid.UUID) (err error) {
	ctx, span, finish := startCall(ctx, "card-repository", "SoftDeleteCard")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", userID.String()), attribute.String("card_id", id.String()))

	query := `UPDATE cards SET listable = FALSE, deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		slog.Error("failed to delete card", "method", "SoftDelete", "card_id", id, "error", err)
		return fmt.Errorf("failed to delete card: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrCardNotFound
		return err
	}

	slog.Info("card deleted", "method", "SoftDelete", "card_id", id, "user_id", userID)
	return nil
}
