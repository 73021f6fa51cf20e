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

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *models.User, err error) {
	ctx, span, finish := startCall(ctx, "user-repository", "GetUserByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", id.String()))

	query := `SELECT id, name, email, cpf_cnpj, phone, person_type, gateway_customer_id, created_at, updated_at FROM users WHERE id = $1`

	var user models.User
	var customerID sql.NullString
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.CpfCnpj,
		&user.Phone,
		&user.PersonType,
		&customerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrUserNotFound
		return nil, err
	case err != nil:
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	user.GatewayCustomerID = customerID.String
	return &user, nil
}

func (r *PostgresUserRepository) Upsert(ctx context.Context, user *models.User) (err error) {
	ctx, span, finish := startCall(ctx, "user-repository", "UpsertUser")
	defer func() { finish(err) }()

	if user == nil {
		err = pkgerrors.ErrNilUser
		return err
	}
	if user.ID == uuid.Nil {
		err = fmt.Errorf("user id is required")
		return err
	}
	span.SetAttributes(attribute.String("user_id", user.ID.String()))

	query := `
		INSERT INTO users (id, name, email, cpf_cnpj, phone, person_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			cpf_cnpj = EXCLUDED.cpf_cnpj,
			phone = EXCLUDED.phone,
			person_type = EXCLUDED.person_type,
			updated_at = NOW()
		RETURNING gateway_customer_id, created_at, updated_at`

	var customerID sql.NullString
	err = r.db.QueryRowContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.CpfCnpj,
		user.Phone,
		user.PersonType,
	).Scan(&customerID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		slog.Error("failed to upsert user", "method", "Upsert", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	user.GatewayCustomerID = customerID.String
	slog.Info("user upserted", "method", "Upsert", "user_id", user.ID)
	return nil
}

func (r *PostgresUserRepository) SetGatewayCustomerID(ctx context.Context, id uuid.UUID, customerID string) (err error) {
	ctx, span, finish := startCall(ctx, "user-repository", "SetGatewayCustomerID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("user_id", id.String()))

	query := `UPDATE users SET gateway_customer_id = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, nullString(customerID), id)
	if err != nil {
		slog.Error("failed to set gateway customer id", "method", "SetGatewayCustomerID", "user_id", id, "error", err)
		return fmt.Errorf("failed to set gateway customer id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrUserNotFound
		return err
	}

	slog.Info("gateway customer reference updated", "user_id", id, "cleared", customerID == "")
	return nil
}
