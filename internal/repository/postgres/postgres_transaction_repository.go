package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/repository"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, user_id, product_id, amount, status, payment_method, gateway_customer_id, gateway_payment_id, metadata, created_at, updated_at`

type PostgresTransactionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db, now: time.Now}
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var customerID, paymentID sql.NullString
	var metadata []byte
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.ProductID,
		&tx.Amount,
		&tx.Status,
		&tx.PaymentMethod,
		&customerID,
		&paymentID,
		&metadata,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.GatewayCustomerID = customerID.String
	if paymentID.Valid {
		id := paymentID.String
		tx.GatewayPaymentID = &id
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, span, finish := startCall(ctx, "transaction-repository", "CreateTransaction")
	defer func() { finish(err) }()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return err
	}
	if !tx.Status.IsValid() {
		err = pkgerrors.ErrInvalidStatus
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status, "error", err)
		return err
	}
	if !tx.PaymentMethod.IsValid() {
		err = pkgerrors.ErrInvalidMethod
		slog.Error("invalid payment method", "method", "Create", "payment_method", tx.PaymentMethod, "error", err)
		return err
	}
	if !tx.Amount.IsPositive() {
		err = fmt.Errorf("amount must be positive")
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount, "error", err)
		return err
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	span.SetAttributes(
		attribute.String("transaction_id", tx.ID.String()),
		attribute.String("user_id", tx.UserID.String()),
		attribute.String("status", string(tx.Status)),
		attribute.String("payment_method", string(tx.PaymentMethod)),
	)

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	var paymentID sql.NullString
	if tx.GatewayPaymentID != nil {
		paymentID = nullString(*tx.GatewayPaymentID)
	}

	query := `INSERT INTO transactions (id, user_id, product_id, amount, status, payment_method, gateway_customer_id, gateway_payment_id, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.ProductID,
		tx.Amount.Round(2),
		tx.Status,
		tx.PaymentMethod,
		nullString(tx.GatewayCustomerID),
		paymentID,
		metadata,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			slog.Error("transaction references unknown user", "method", "Create", "user_id", tx.UserID, "error", err)
			return pkgerrors.ErrUserNotFound
		}
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "transaction_id", tx.ID, "user_id", tx.UserID, "payment_method", tx.PaymentMethod, "amount", tx.Amount.StringFixed(2))
	return nil
}

// Update applies the non-nil fields of upd. Columns are always emitted in the
// same order so the generated statement is stable.
func (r *PostgresTransactionRepository) Update(ctx context.Context, id uuid.UUID, upd models.TransactionUpdate) (err error) {
	ctx, span, finish := startCall(ctx, "transaction-repository", "UpdateTransaction")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("transaction_id", id.String()))

	if upd.IsEmpty() {
		err = pkgerrors.ErrEmptyUpdate
		return err
	}
	if upd.Status != nil && !upd.Status.IsValid() {
		err = pkgerrors.ErrInvalidStatus
		return err
	}
	if upd.PaymentMethod != nil && !upd.PaymentMethod.IsValid() {
		err = pkgerrors.ErrInvalidMethod
		return err
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.ProductID != nil {
		add("product_id", *upd.ProductID)
	}
	if upd.Amount != nil {
		if !upd.Amount.IsPositive() {
			err = fmt.Errorf("amount must be positive")
			return err
		}
		add("amount", upd.Amount.Round(2))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.PaymentMethod != nil {
		add("payment_method", *upd.PaymentMethod)
	}
	if upd.GatewayCustomerID != nil {
		add("gateway_customer_id", nullString(*upd.GatewayCustomerID))
	}
	if upd.GatewayPaymentID != nil {
		add("gateway_payment_id", nullString(*upd.GatewayPaymentID))
	}
	if upd.Metadata != nil {
		metadata, marshalErr := json.Marshal(upd.Metadata)
		if marshalErr != nil {
			err = fmt.Errorf("failed to encode transaction metadata: %w", marshalErr)
			return err
		}
		add("metadata", metadata)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE transactions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to update transaction", "method", "Update", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrTransactionNotFound
		return err
	}

	slog.Info("transaction updated", "method", "Update", "transaction_id", id, "fields", len(sets)-1)
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *models.Transaction, err error) {
	ctx, span, finish := startCall(ctx, "transaction-repository", "GetTransactionByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("transaction_id", id.String()))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByGatewayPaymentID(ctx context.Context, paymentID string) (_ *models.Transaction, err error) {
	ctx, span, finish := startCall(ctx, "transaction-repository", "GetTransactionByGatewayPaymentID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("gateway_payment_id", paymentID))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE gateway_payment_id = $1 ORDER BY created_at DESC LIMIT 1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, paymentID))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by payment id", "method", "GetByGatewayPaymentID", "gateway_payment_id", paymentID, "error", err)
		return nil, fmt.Errorf("failed to get transaction by payment id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) GetPendingForUser(ctx context.Context, userID uuid.UUID) (_ *models.Transaction, err error) {
	ctx, span, finish := startCall(ctx, "transaction-repository", "GetPendingForUser")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, userID, models.StatusPending))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, nil
	}
	if err != nil {
		slog.Error("failed to get pending transaction", "method", "GetPendingForUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get pending transaction: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) Finalize(ctx context.Context, id uuid.UUID, status models.TransactionStatus, validity time.Duration) (_ *repository.FinalizeResult, err error) {
	ctx, span, finish := startCall(ctx, "transaction-repository", "FinalizeTransaction")
	defer func() { finish(err) }()
	span.SetAttributes(
		attribute.String("transaction_id", id.String()),
		attribute.String("status", string(status)),
	)

	if !status.IsSuccess() {
		err = pkgerrors.ErrInvalidStatus
		return nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Finalize", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	tx, err := scanTransaction(dbTx.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, pkgerrors.ErrTransactionNotFound)
		return nil, err
	}
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to lock transaction: %w", err))
		slog.Error("failed to lock transaction", "method", "Finalize", "transaction_id", id, "error", err)
		return nil, err
	}

	if tx.Status.IsTerminal() && !tx.Status.IsSuccess() {
		err = rollback(dbTx, pkgerrors.ErrTransactionClosed)
		slog.Warn("refusing to finalize closed transaction", "method", "Finalize", "transaction_id", id, "status", tx.Status)
		return nil, err
	}

	if tx.Status.IsSuccess() {
		grant, grantErr := activeGrant(ctx, dbTx, tx.UserID, tx.ProductID)
		if grantErr != nil && !stderrors.Is(grantErr, pkgerrors.ErrPurchaseNotFound) {
			err = rollback(dbTx, grantErr)
			return nil, err
		}
		if err = dbTx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		slog.Info("transaction already finalized", "method", "Finalize", "transaction_id", id, "status", tx.Status)
		return &repository.FinalizeResult{Transaction: tx, Purchase: grant, AlreadyFinalized: true}, nil
	}

	now := r.now()
	_, err = dbTx.ExecContext(ctx, `UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`, status, now, id)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to update transaction status: %w", err))
		slog.Error("failed to update transaction status", "method", "Finalize", "transaction_id", id, "error", err)
		return nil, err
	}
	tx.Status = status
	tx.UpdatedAt = now

	grant, err := createOrExtendGrant(ctx, dbTx, tx.UserID, tx.ProductID, tx.ID, now, validity)
	if err != nil {
		err = rollback(dbTx, err)
		slog.Error("failed to upsert grant", "method", "Finalize", "transaction_id", id, "error", err)
		return nil, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Finalize", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction finalized", "method", "Finalize", "transaction_id", id, "status", status, "grant_id", grant.ID, "end_date", grant.EndDate)
	return &repository.FinalizeResult{Transaction: tx, Purchase: grant}, nil
}
