package migrations

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, Up(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDown(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DROP TABLE").WillReturnError(errors.New("permission denied"))

	err = Down(context.Background(), db)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "000001_init.down.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
