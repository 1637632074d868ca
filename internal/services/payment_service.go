package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tradeflow/backend/internal/config"
	"github.com/tradeflow/backend/internal/models"
)

// PaymentService reconciles payment-gateway webhook deliveries against
// payment_orders and account balances. The process is stateless and may
// run as several instances, so every idempotency guarantee is enforced
// through conditional writes, never in-process state.
type PaymentService struct {
	db        *sql.DB
	accounts  *AccountStore
	cfg       *config.WebhookConfig
	validator *ValidationHelper
}

func NewPaymentService(db *sql.DB, accounts *AccountStore, cfg *config.WebhookConfig) *PaymentService {
	return &PaymentService{
		db:        db,
		accounts:  accounts,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// paymentNotification is the canonical shape both gateway payload forms
// normalize into at the edge. Everything past the parser is
// shape-agnostic.
type paymentNotification struct {
	EventType string
	OrderID   string `validate:"required"`
	PaymentID string
	RawStatus string `validate:"required"`
	Status    models.PaymentStatus
	Amount    float64
	Currency  string
}

// HandleWebhook handles POST /api/v1/payments/webhook. Apart from a bad
// signature (401), every path acknowledges with 200 — the gateway must
// never be handed a reason to retry indefinitely on a transient local
// failure.
func (ps *PaymentService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[PAYMENT] Failed to read webhook body: %v", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}

	signature := r.Header.Get("x-webhook-signature")
	if signature == "" {
		signature = r.Header.Get("x-cashfree-signature")
	}

	if signature != "" {
		if !ps.verifySignature(body, signature) {
			log.Printf("[PAYMENT] Signature mismatch from %s", sourceIP(r))
			paymentWebhooks.WithLabelValues("unauthorized").Inc()
			SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
			return
		}
	} else if !ps.cfg.RelaxedSignatures() {
		log.Printf("[PAYMENT] Unsigned webhook rejected from %s", sourceIP(r))
		paymentWebhooks.WithLabelValues("unauthorized").Inc()
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ps.cfg.StoreTimeout)
	defer cancel()

	note, err := parsePaymentNotification(body)
	if err == nil {
		err = ps.validator.ValidateStruct(note)
	}
	if err != nil {
		// Malformed input is absorbed: audit what arrived, acknowledge,
		// and let operators find it by its process_error.
		log.Printf("[PAYMENT] Unparseable webhook payload: %v", err)
		paymentWebhooks.WithLabelValues("malformed").Inc()
		eventID, insertErr := ps.insertAuditEvent(ctx, &paymentNotification{}, body, signature, sourceIP(r))
		if insertErr != nil {
			log.Printf("[PAYMENT] Failed to audit malformed payload: %v", insertErr)
		} else {
			ps.markEvent(ctx, eventID, fmt.Sprintf("unparseable payload: %v", err))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}

	// Fast-path duplicate defense: same order, same status, already
	// processed. The conditional order claim below is the guarantee;
	// this just spares redelivered notifications the full pipeline.
	if ps.alreadyProcessed(ctx, note.OrderID, note.RawStatus) {
		log.Printf("[PAYMENT] Duplicate delivery for order %s status %s, skipping", note.OrderID, note.RawStatus)
		paymentWebhooks.WithLabelValues("duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Already processed",
		})
		return
	}

	// Audit trail is append-only per delivery, inserted before any
	// mutation is attempted.
	eventID, err := ps.insertAuditEvent(ctx, note, body, signature, sourceIP(r))
	if err != nil {
		log.Printf("[PAYMENT] Failed to insert audit event for order %s: %v", note.OrderID, err)
		eventID = 0
	}

	if note.Status != models.StatusPaid {
		ps.recordStatus(ctx, eventID, note, body)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
		return
	}

	ps.credit(ctx, eventID, note, body)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// recordStatus stores a non-success status transition. Forward-only:
// an order that already reached PAID/COMPLETED never regresses.
func (ps *PaymentService) recordStatus(ctx context.Context, eventID int64, note *paymentNotification, raw []byte) {
	result, err := ps.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET status = $1, raw_payload = $2, updated_at = NOW()
		WHERE order_id = $3 AND status NOT IN ('PAID', 'COMPLETED')
	`, strings.ToUpper(note.RawStatus), raw, note.OrderID)
	if err != nil {
		log.Printf("[PAYMENT] Failed to update order %s: %v", note.OrderID, err)
		ps.markEvent(ctx, eventID, fmt.Sprintf("order update failed: %v", err))
		paymentWebhooks.WithLabelValues("store_error").Inc()
		return
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		log.Printf("[PAYMENT] Order %s unknown or already terminal, status %s ignored", note.OrderID, note.RawStatus)
	}
	ps.markEvent(ctx, eventID, "")
	paymentWebhooks.WithLabelValues("recorded").Inc()
}

// credit performs the at-most-once balance credit. The conditional
// update is the claim: exactly one delivery moves the order out of a
// non-terminal state, and only that delivery credits. This holds under
// concurrent redeliveries without any preceding read.
func (ps *PaymentService) credit(ctx context.Context, eventID int64, note *paymentNotification, raw []byte) {
	var userID string
	var amount float64
	err := ps.db.QueryRowContext(ctx, `
		UPDATE payment_orders
		SET status = $1, raw_payload = $2, updated_at = NOW()
		WHERE order_id = $3 AND status NOT IN ('PAID', 'COMPLETED')
		RETURNING user_id, amount
	`, string(models.StatusCompleted), raw, note.OrderID).Scan(&userID, &amount)

	if err == sql.ErrNoRows {
		// Unknown order, or a concurrent/earlier delivery already won
		// the claim. Either way: handled, no credit.
		log.Printf("[PAYMENT] Order %s missing or already handled, no credit", note.OrderID)
		paymentWebhooks.WithLabelValues("already_handled").Inc()
		ps.markEvent(ctx, eventID, "")
		return
	}
	if err != nil {
		log.Printf("[PAYMENT] Failed to claim order %s: %v", note.OrderID, err)
		paymentWebhooks.WithLabelValues("store_error").Inc()
		ps.markEvent(ctx, eventID, fmt.Sprintf("order claim failed: %v", err))
		return
	}

	if err := ps.accounts.Credit(ctx, userID, amount); err != nil {
		// The order is claimed but the balance was not moved. The event
		// stays processed with its error so operators can reconcile via
		// process_error IS NOT NULL instead of the gateway retrying.
		log.Printf("[PAYMENT] Credit of %.2f to %s failed for order %s: %v", amount, userID, note.OrderID, err)
		paymentWebhooks.WithLabelValues("credit_error").Inc()
		ps.markEvent(ctx, eventID, fmt.Sprintf("credit failed: %v", err))
		return
	}

	log.Printf("[PAYMENT] Credited %.2f to %s for order %s", amount, userID, note.OrderID)
	paymentWebhooks.WithLabelValues("credited").Inc()
	ps.markEvent(ctx, eventID, "")
}

func (ps *PaymentService) alreadyProcessed(ctx context.Context, orderID, status string) bool {
	var exists bool
	err := ps.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM cashfree_webhooks
			WHERE order_id = $1 AND status = $2 AND processed = true
		)
	`, orderID, status).Scan(&exists)
	if err != nil {
		log.Printf("[PAYMENT] Duplicate check failed for order %s: %v", orderID, err)
		return false
	}
	return exists
}

func (ps *PaymentService) insertAuditEvent(ctx context.Context, note *paymentNotification, raw []byte, signature, ip string) (int64, error) {
	var id int64
	err := ps.db.QueryRowContext(ctx, `
		INSERT INTO cashfree_webhooks
		(event_type, order_id, payment_id, status, amount, currency, raw_payload, signature, source_ip, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NOW())
		RETURNING id
	`, note.EventType, note.OrderID, note.PaymentID, note.RawStatus,
		note.Amount, note.Currency, raw, signature, ip).Scan(&id)
	return id, err
}

// markEvent closes out an audit row. Empty errStr means handled cleanly;
// anything else is preserved for manual reconciliation. Processed is set
// either way — the delivery has been handled.
func (ps *PaymentService) markEvent(ctx context.Context, eventID int64, errStr string) {
	if eventID == 0 {
		return
	}
	_, err := ps.db.ExecContext(ctx, `
		UPDATE cashfree_webhooks
		SET processed = true, process_error = NULLIF($1, ''), processed_at = NOW()
		WHERE id = $2
	`, errStr, eventID)
	if err != nil {
		log.Printf("[PAYMENT] Failed to mark audit event %d: %v", eventID, err)
	}
}

func (ps *PaymentService) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(ps.cfg.SigningSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// parsePaymentNotification normalizes the two payload shapes the gateway
// is observed to send: fields nested under data.order/data.payment, or
// flattened at the top level.
func parsePaymentNotification(body []byte) (*paymentNotification, error) {
	var envelope struct {
		Type string `json:"type"`
		Data *struct {
			OrderID     string `json:"order_id"`
			OrderStatus string `json:"order_status"`
			Order       *struct {
				OrderID       string  `json:"order_id"`
				OrderAmount   float64 `json:"order_amount"`
				OrderCurrency string  `json:"order_currency"`
				OrderStatus   string  `json:"order_status"`
			} `json:"order"`
			Payment *struct {
				CfPaymentID     json.Number `json:"cf_payment_id"`
				PaymentStatus   string      `json:"payment_status"`
				PaymentAmount   float64     `json:"payment_amount"`
				PaymentCurrency string      `json:"payment_currency"`
			} `json:"payment"`
		} `json:"data"`
		OrderID     string  `json:"order_id"`
		OrderStatus string  `json:"order_status"`
		OrderAmount float64 `json:"order_amount"`
		Currency    string  `json:"order_currency"`
		PaymentID   string  `json:"payment_id"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	note := &paymentNotification{
		EventType: envelope.Type,
		OrderID:   envelope.OrderID,
		RawStatus: envelope.OrderStatus,
		Amount:    envelope.OrderAmount,
		Currency:  envelope.Currency,
		PaymentID: envelope.PaymentID,
	}

	if data := envelope.Data; data != nil {
		if data.OrderID != "" {
			note.OrderID = data.OrderID
		}
		if data.OrderStatus != "" {
			note.RawStatus = data.OrderStatus
		}
		if order := data.Order; order != nil {
			if order.OrderID != "" {
				note.OrderID = order.OrderID
			}
			if note.RawStatus == "" {
				note.RawStatus = order.OrderStatus
			}
			if order.OrderAmount != 0 {
				note.Amount = order.OrderAmount
			}
			if order.OrderCurrency != "" {
				note.Currency = order.OrderCurrency
			}
		}
		if payment := data.Payment; payment != nil {
			if payment.CfPaymentID.String() != "" {
				note.PaymentID = payment.CfPaymentID.String()
			}
			if note.RawStatus == "" {
				note.RawStatus = payment.PaymentStatus
			}
			if note.Amount == 0 {
				note.Amount = payment.PaymentAmount
			}
			if note.Currency == "" {
				note.Currency = payment.PaymentCurrency
			}
		}
	}

	if note.OrderID == "" {
		return nil, errors.New("no order id in payload")
	}

	note.Status = models.ParsePaymentStatus(note.RawStatus)
	return note, nil
}

// sourceIP resolves the delivering gateway's address behind the load
// balancer.
func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
