package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// AccountStore owns account lookups and balance mutations. The balance
// migration from the legacy profiles table to user_accounts never fully
// completed, so the fallback between the two lives here; callers see a
// single capability.
type AccountStore struct {
	db      *sql.DB
	baseURL string
}

func NewAccountStore(db *sql.DB, baseURL string) *AccountStore {
	return &AccountStore{
		db:      db,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ResolveWebhookID finds the account owning a signal webhook identifier.
// The column was renamed once; the legacy webhook_token column is checked
// before giving up. Returns sql.ErrNoRows when neither matches.
func (s *AccountStore) ResolveWebhookID(ctx context.Context, webhookID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE webhook_id = $1
	`, webhookID).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE webhook_token = $1
	`, webhookID).Scan(&userID)
	if err != nil {
		return "", err
	}
	log.Printf("[ACCOUNT] Resolved %s via legacy webhook_token column", webhookID)
	return userID, nil
}

// EnsureWebhookID returns the account's webhook identifier, assigning one
// on first access.
func (s *AccountStore) EnsureWebhookID(ctx context.Context, accountID string) (string, error) {
	var current sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT webhook_id FROM accounts WHERE id = $1
	`, accountID).Scan(&current)
	if err != nil {
		return "", err
	}
	if current.Valid && current.String != "" {
		return current.String, nil
	}

	fresh := uuid.NewString()
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET webhook_id = $1, updated_at = NOW()
		WHERE id = $2 AND (webhook_id IS NULL OR webhook_id = '')
	`, fresh, accountID)
	if err != nil {
		return "", err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		// Lost a first-access race; another request assigned one.
		err = s.db.QueryRowContext(ctx, `
			SELECT webhook_id FROM accounts WHERE id = $1
		`, accountID).Scan(&current)
		if err != nil {
			return "", err
		}
		return current.String, nil
	}

	return fresh, nil
}

// Credit adds amount to the account's balance with a server-side additive
// update, never read-modify-write, so concurrent webhook deliveries for
// different orders cannot lose updates. Accounts missing a balance row
// entirely get one seeded with the amount.
func (s *AccountStore) Credit(ctx context.Context, accountID string, amount float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_accounts
		SET balance = COALESCE(balance, 0) + $1, updated_at = NOW()
		WHERE user_id = $2
	`, amount, accountID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Legacy table, accounts created before the migration.
	result, err = s.db.ExecContext(ctx, `
		UPDATE profiles
		SET balance = COALESCE(balance, 0) + $1, updated_at = NOW()
		WHERE id = $2
	`, amount, accountID)
	if err != nil {
		return err
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		log.Printf("[ACCOUNT] Credited legacy profile balance for %s", accountID)
		return nil
	}

	// No balance row anywhere; seed one in the consolidation target.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("seeding balance row for %s: %w", accountID, err)
	}
	log.Printf("[ACCOUNT] Seeded balance row for %s with %.2f", accountID, amount)
	return nil
}

// WebhookURL builds the externally visible signal address for an
// identifier.
func (s *AccountStore) WebhookURL(webhookID string) string {
	return fmt.Sprintf("%s/webhook/%s", s.baseURL, url.PathEscape(webhookID))
}
