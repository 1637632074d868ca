package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestAccountStore_ResolveWebhookID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, "http://localhost:8080")

	t.Run("primary column", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM accounts WHERE webhook_id = \$1`).
			WithArgs("hook-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))

		userID, err := store.ResolveWebhookID(context.Background(), "hook-1")
		assert.NoError(t, err)
		assert.Equal(t, "user-1", userID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("legacy column fallback", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM accounts WHERE webhook_id = \$1`).
			WithArgs("old-hook").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT id FROM accounts WHERE webhook_token = \$1`).
			WithArgs("old-hook").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-2"))

		userID, err := store.ResolveWebhookID(context.Background(), "old-hook")
		assert.NoError(t, err)
		assert.Equal(t, "user-2", userID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no match", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM accounts WHERE webhook_id = \$1`).
			WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT id FROM accounts WHERE webhook_token = \$1`).
			WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)

		_, err := store.ResolveWebhookID(context.Background(), "nobody")
		assert.Equal(t, sql.ErrNoRows, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountStore_EnsureWebhookID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, "http://localhost:8080")

	t.Run("existing identifier returned", func(t *testing.T) {
		mock.ExpectQuery(`SELECT webhook_id FROM accounts WHERE id = \$1`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_id"}).AddRow("hook-1"))

		id, err := store.EnsureWebhookID(context.Background(), "user-1")
		assert.NoError(t, err)
		assert.Equal(t, "hook-1", id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("assigned on first access", func(t *testing.T) {
		mock.ExpectQuery(`SELECT webhook_id FROM accounts WHERE id = \$1`).
			WithArgs("user-2").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_id"}).AddRow(nil))
		mock.ExpectExec(`UPDATE accounts SET webhook_id = \$1`).
			WithArgs(sqlmock.AnyArg(), "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		id, err := store.EnsureWebhookID(context.Background(), "user-2")
		assert.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent first access re-reads", func(t *testing.T) {
		mock.ExpectQuery(`SELECT webhook_id FROM accounts WHERE id = \$1`).
			WithArgs("user-3").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_id"}).AddRow(""))
		mock.ExpectExec(`UPDATE accounts SET webhook_id = \$1`).
			WithArgs(sqlmock.AnyArg(), "user-3").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT webhook_id FROM accounts WHERE id = \$1`).
			WithArgs("user-3").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_id"}).AddRow("winner-hook"))

		id, err := store.EnsureWebhookID(context.Background(), "user-3")
		assert.NoError(t, err)
		assert.Equal(t, "winner-hook", id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountStore_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, "http://localhost:8080")

	t.Run("primary table hit", func(t *testing.T) {
		mock.ExpectExec(`UPDATE user_accounts`).
			WithArgs(100.0, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.Credit(context.Background(), "user-1", 100))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("legacy profiles fallback", func(t *testing.T) {
		mock.ExpectExec(`UPDATE user_accounts`).
			WithArgs(75.0, "user-2").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE profiles`).
			WithArgs(75.0, "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.Credit(context.Background(), "user-2", 75))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing balance row is seeded", func(t *testing.T) {
		mock.ExpectExec(`UPDATE user_accounts`).
			WithArgs(40.0, "user-3").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE profiles`).
			WithArgs(40.0, "user-3").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO user_accounts`).
			WithArgs("user-3", 40.0).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, store.Credit(context.Background(), "user-3", 40))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountStore_WebhookURL(t *testing.T) {
	store := NewAccountStore(nil, "https://api.tradeflow.app/")
	assert.Equal(t, "https://api.tradeflow.app/webhook/hook-1", store.WebhookURL("hook-1"))
}
