package models

import (
	"encoding/json"
	"strings"
	"time"
)

// PaymentStatus is the closed set of order states this service acts on.
// The gateway reports success under several aliases; ParsePaymentStatus
// collapses them once at the boundary so nothing downstream matches
// strings.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusPaid      PaymentStatus = "PAID"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusOther     PaymentStatus = "OTHER"
)

// ParsePaymentStatus maps a raw gateway status onto the closed set.
// Unrecognized values come back as StatusOther; callers keep the raw
// string for storage.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SUCCESS", "OK", "PAYMENT_SUCCESS":
		return StatusPaid
	case "PENDING", "ACTIVE":
		return StatusPending
	case "FAILED", "FAILURE", "CANCELLED", "EXPIRED", "USER_DROPPED":
		return StatusFailed
	case "COMPLETED":
		return StatusCompleted
	default:
		return StatusOther
	}
}

// Terminal reports whether an order in this state has already been paid
// out; a terminal order is never credited again and never regresses.
func (s PaymentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCompleted
}

// PaymentOrder tracks one checkout attempt against a gateway order id.
// Created when checkout is initiated; only the payment webhook receiver
// mutates it afterwards.
type PaymentOrder struct {
	ID         int64           `json:"id" db:"id"`
	OrderID    string          `json:"order_id" db:"order_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Amount     float64         `json:"amount" db:"amount"`
	Currency   string          `json:"currency" db:"currency"`
	Status     string          `json:"status" db:"status"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// PaymentWebhookEvent is the append-only audit record of one gateway
// notification delivery (cashfree_webhooks row). ProcessError non-nil
// with Processed true marks a delivery that was handled but needs manual
// reconciliation.
type PaymentWebhookEvent struct {
	ID           int64           `json:"id" db:"id"`
	EventType    string          `json:"event_type" db:"event_type"`
	OrderID      string          `json:"order_id" db:"order_id"`
	PaymentID    string          `json:"payment_id" db:"payment_id"`
	Status       string          `json:"status" db:"status"`
	Amount       float64         `json:"amount" db:"amount"`
	Currency     string          `json:"currency" db:"currency"`
	RawPayload   json.RawMessage `json:"raw_payload" db:"raw_payload"`
	Signature    string          `json:"signature" db:"signature"`
	SourceIP     string          `json:"source_ip" db:"source_ip"`
	Processed    bool            `json:"processed" db:"processed"`
	ProcessError *string         `json:"process_error,omitempty" db:"process_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
