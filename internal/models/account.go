package models

import "time"

// Account represents a dashboard user account. WebhookID routes inbound
// signal calls to the account; it is assigned lazily on first access.
// WebhookToken is the pre-rename column and is still checked on lookups
// until the backfill completes.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	WebhookID    string    `json:"webhook_id" db:"webhook_id"`
	WebhookToken string    `json:"-" db:"webhook_token"`
	Balance      float64   `json:"balance" db:"balance"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
