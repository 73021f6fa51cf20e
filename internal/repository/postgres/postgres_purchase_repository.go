package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const purchaseColumns = `id, user_id, product_id, transaction_id, status, start_date, end_date, updated_at`

type PostgresPurchaseRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresPurchaseRepository(db *sql.DB) *PostgresPurchaseRepository {
	return &PostgresPurchaseRepository{db: db, now: time.Now}
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var p models.Purchase
	if err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.TransactionID, &p.Status, &p.StartDate, &p.EndDate, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func activeGrant(ctx context.Context, q queryer, userID uuid.UUID, productID string) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 AND product_id = $2 AND status = $3 ORDER BY end_date DESC LIMIT 1`
	p, err := scanPurchase(q.QueryRowContext(ctx, query, userID, productID, models.AccessActive))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active purchase: %w", err)
	}
	return p, nil
}

// createOrExtendGrant must run inside a database transaction when called from
// Finalize; the SELECT takes a row lock on the existing grant.
func createOrExtendGrant(ctx context.Context, q queryer, userID uuid.UUID, productID string, transactionID uuid.UUID, now time.Time, validity time.Duration) (*models.Purchase, error) {
	end := now.Add(validity)

	var existingID uuid.UUID
	err := q.QueryRowContext(ctx,
		`SELECT id FROM purchases WHERE user_id = $1 AND product_id = $2 AND status = $3 FOR UPDATE`,
		userID, productID, models.AccessActive,
	).Scan(&existingID)

	switch {
	case err == nil:
		query := `UPDATE purchases SET end_date = $1, transaction_id = $2, updated_at = $3 WHERE id = $4 RETURNING ` + purchaseColumns
		p, err := scanPurchase(q.QueryRowContext(ctx, query, end, transactionID, now, existingID))
		if err != nil {
			return nil, fmt.Errorf("failed to extend purchase: %w", err)
		}
		slog.Info("grant extended", "grant_id", p.ID, "user_id", userID, "transaction_id", transactionID, "end_date", end)
		return p, nil

	case stderrors.Is(err, sql.ErrNoRows):
		query := `INSERT INTO purchases (id, user_id, product_id, transaction_id, status, start_date, end_date, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING ` + purchaseColumns
		p, err := scanPurchase(q.QueryRowContext(ctx, query, uuid.New(), userID, productID, transactionID, models.AccessActive, now, end, now))
		if err != nil {
			return nil, fmt.Errorf("failed to create purchase: %w", err)
		}
		slog.Info("grant created", "grant_id", p.ID, "user_id", userID, "transaction_id", transactionID, "end_date", end)
		return p, nil

	default:
		return nil, fmt.Errorf("failed to lock purchase: %w", err)
	}
}

func (r *PostgresPurchaseRepository) CreateOrExtend(ctx context.Context, userID uuid.UUID, productID string, transactionID uuid.UUID, validity time.Duration) (_ *models.Purchase, err error) {
	ctx, span, finish := startCall(ctx, "purchase-repository", "CreateOrExtendPurchase")
	defer func() { finish(err) }()
	span.SetAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("transaction_id", transactionID.String()),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	p, err := createOrExtendGrant(ctx, dbTx, userID, productID, transactionID, r.now(), validity)
	if err != nil {
		err = rollback(dbTx, err)
		slog.Error("failed to upsert grant", "method", "CreateOrExtend", "user_id", userID, "error", err)
		return nil, err
	}
	if err = dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

func (r *PostgresPurchaseRepository) GetActive(ctx context.Context, userID uuid.UUID, productID string) (_ *models.Purchase, err error) {
	ctx, span, finish := startCall(ctx, "purchase-repository", "GetActivePurchase")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	p, err := activeGrant(ctx, r.db, userID, productID)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrPurchaseNotFound) {
			slog.Error("failed to get active purchase", "method", "GetActive", "user_id", userID, "error", err)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresPurchaseRepository) ListByUser(ctx context.Context, userID uuid.UUID) (_ []models.Purchase, err error) {
	ctx, span, finish := startCall(ctx, "purchase-repository", "ListPurchasesByUser")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	rows, err := r.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE user_id = $1 ORDER BY end_date DESC`, userID)
	if err != nil {
		slog.Error("failed to list purchases", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := make([]models.Purchase, 0)
	for rows.Next() {
		p, scanErr := scanPurchase(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan purchase: %w", scanErr)
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return purchases, nil
}
