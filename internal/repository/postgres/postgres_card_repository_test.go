package repository_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	repository "github.com/honeynil/CheckoutService/internal/repository/postgres"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cardColumns = []string{"id", "user_id", "gateway_customer_id", "last4", "brand", "token", "fingerprint", "listable", "created_at", "updated_at"}

func TestPostgresCardRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresCardRepository(db)
	ctx := context.Background()

	t.Run("NilCard", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilCard)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingToken", func(t *testing.T) {
		err := repo.Create(ctx, &models.Card{UserID: uuid.New(), Last4: "1111"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "card token and last4 are required")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpsertKeepsExistingID", func(t *testing.T) {
		existingID := uuid.New()
		now := time.Now().UTC()
		card := &models.Card{
			UserID:            uuid.New(),
			GatewayCustomerID: "cus_1",
			Last4:             "1111",
			Brand:             "VISA",
			Token:             "tok_new",
			Fingerprint:       "fp",
			Listable:          false,
		}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO cards`)).
			WithArgs(sqlmock.AnyArg(), card.UserID, "cus_1", "1111", "VISA", "tok_new", "fp", false).
			WillReturnRows(sqlmock.NewRows([]string{"id", "listable", "created_at", "updated_at"}).
				AddRow(existingID.String(), true, now.Add(-time.Hour), now))

		err := repo.Create(ctx, card)
		require.NoError(t, err)
		assert.Equal(t, existingID, card.ID)
		assert.True(t, card.Listable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresCardRepository_UpdateToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresCardRepository(db)
	ctx := context.Background()
	cardID := uuid.New()
	query := regexp.QuoteMeta(`UPDATE cards SET token = $1, gateway_customer_id = $2`)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs("tok_2", "cus_1", "4242", "", cardID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateToken(ctx, cardID, "cus_1", "tok_2", "4242", ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RelinksRecreatedCustomer", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs("tok_4", "cus_new", "", "", cardID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateToken(ctx, cardID, "cus_new", "tok_4", "", ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingCustomer", func(t *testing.T) {
		err := repo.UpdateToken(ctx, cardID, "", "tok_5", "", "")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeletedCard", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs("tok_3", "cus_1", "", "", cardID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateToken(ctx, cardID, "cus_1", "tok_3", "", "")
		assert.ErrorIs(t, err, pkgerrors.ErrCardNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresCardRepository_Lookups(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresCardRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	t.Run("ListListable", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM cards WHERE user_id = $1 AND listable = TRUE AND deleted_at IS NULL`)).
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows(cardColumns).
				AddRow(uuid.NewString(), userID.String(), "cus_1", "1111", "VISA", "tok_1", "fp1", true, now, now))

		cards, err := repo.ListListable(ctx, userID)
		require.NoError(t, err)
		require.Len(t, cards, 1)
		assert.Equal(t, "1111", cards[0].Last4)
		assert.Equal(t, "tok_1", cards[0].Token)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindByFingerprint", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM cards WHERE user_id = $1 AND fingerprint = $2 AND deleted_at IS NULL`)).
			WithArgs(userID, "fp1").
			WillReturnRows(sqlmock.NewRows(cardColumns).
				AddRow(uuid.NewString(), userID.String(), "cus_1", "1111", "VISA", "tok_1", "fp1", false, now, now))

		card, err := repo.FindByFingerprint(ctx, userID, "fp1")
		require.NoError(t, err)
		assert.False(t, card.Listable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindByFingerprintNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM cards WHERE user_id = $1 AND fingerprint = $2`)).
			WithArgs(userID, "missing").
			WillReturnError(sql.ErrNoRows)

		card, err := repo.FindByFingerprint(ctx, userID, "missing")
		assert.Nil(t, card)
		assert.ErrorIs(t, err, pkgerrors.ErrCardNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresCardRepository_SoftDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresCardRepository(db)
	ctx := context.Background()
	userID, cardID := uuid.New(), uuid.New()
	query := regexp.QuoteMeta(`UPDATE cards SET listable = FALSE, deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(cardID, userID).WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.SoftDelete(ctx, userID, cardID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OtherUsersCard", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(cardID, userID).WillReturnResult(sqlmock.NewResult(0, 0))
		err := repo.SoftDelete(ctx, userID, cardID)
		assert.ErrorIs(t, err, pkgerrors.ErrCardNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
