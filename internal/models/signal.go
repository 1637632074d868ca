package models

import (
	"encoding/json"
	"time"
)

// SignalEvent is one persisted inbound trading-alert webhook call
// (webhook_logs row). UserID is nil when the path identifier matched no
// account; the event is recorded regardless.
type SignalEvent struct {
	ID                  int64           `json:"id" db:"id"`
	UserID              *string         `json:"user_id,omitempty" db:"user_id"`
	WebhookID           string          `json:"webhook_id" db:"webhook_id"`
	Payload             json.RawMessage `json:"payload" db:"payload"`
	Result              json.RawMessage `json:"result,omitempty" db:"result"`
	Processed           bool            `json:"processed" db:"processed"`
	ReceivedAt          time.Time       `json:"received_at" db:"received_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty" db:"processing_started_at"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
