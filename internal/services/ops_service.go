package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tradeflow/backend/internal/config"
	"github.com/tradeflow/backend/internal/models"
)

// OpsService is the authenticated read API the dashboard consumes:
// recent signal events, single-event lookups, order status, and the
// account's signal webhook address.
type OpsService struct {
	db        *sql.DB
	accounts  *AccountStore
	cfg       *config.WebhookConfig
	validator *ValidationHelper
}

func NewOpsService(db *sql.DB, accounts *AccountStore, cfg *config.WebhookConfig) *OpsService {
	return &OpsService{
		db:        db,
		accounts:  accounts,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// GetRecentSignals retrieves the caller's recent signal events.
func (o *OpsService) GetRecentSignals(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 20

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}

	if err := o.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), o.cfg.StoreTimeout)
	defer cancel()

	events, err := o.fetchSignalEvents(ctx, userID, req.Limit)
	if err != nil {
		log.Printf("[OPS] Failed to fetch signal events for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch signal events", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": events,
		"count":   len(events),
	})
}

// GetSignal retrieves one of the caller's signal events by log id.
func (o *OpsService) GetSignal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	logID, err := strconv.ParseInt(chi.URLParam(r, "logId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid log id", http.StatusBadRequest, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), o.cfg.StoreTimeout)
	defer cancel()

	event := models.SignalEvent{}
	var uid sql.NullString
	var payload, result []byte
	err = o.db.QueryRowContext(ctx, `
		SELECT id, user_id, webhook_id, payload, result, processed, received_at, processed_at
		FROM webhook_logs
		WHERE id = $1 AND user_id = $2
	`, logID, userID).Scan(
		&event.ID, &uid, &event.WebhookID, &payload, &result,
		&event.Processed, &event.ReceivedAt, &event.ProcessedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Signal event not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[OPS] Failed to fetch signal event %d: %v", logID, err)
			SendErrorResponse(w, "Failed to fetch signal event", http.StatusInternalServerError, nil)
		}
		return
	}
	if uid.Valid {
		event.UserID = &uid.String
	}
	event.Payload = payload
	event.Result = result

	writeJSON(w, http.StatusOK, event)
}

// GetPaymentOrder retrieves one of the caller's payment orders.
func (o *OpsService) GetPaymentOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	orderID := chi.URLParam(r, "orderId")

	ctx, cancel := context.WithTimeout(r.Context(), o.cfg.StoreTimeout)
	defer cancel()

	order := models.PaymentOrder{}
	err := o.db.QueryRowContext(ctx, `
		SELECT id, order_id, user_id, amount, currency, status, created_at, updated_at
		FROM payment_orders
		WHERE order_id = $1 AND user_id = $2
	`, orderID, userID).Scan(
		&order.ID, &order.OrderID, &order.UserID, &order.Amount,
		&order.Currency, &order.Status, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[OPS] Failed to fetch order %s: %v", orderID, err)
			SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetWebhookURL returns the caller's signal webhook address, assigning
// an identifier on first access.
func (o *OpsService) GetWebhookURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), o.cfg.StoreTimeout)
	defer cancel()

	webhookID, err := o.accounts.EnsureWebhookID(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[OPS] Failed to ensure webhook id for %s: %v", userID, err)
			SendErrorResponse(w, "Failed to resolve webhook id", http.StatusInternalServerError, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhookId": webhookID,
		"url":       o.accounts.WebhookURL(webhookID),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *OpsService) fetchSignalEvents(ctx context.Context, userID string, limit int) ([]models.SignalEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, webhook_id, payload, result, processed, received_at, processed_at
		FROM webhook_logs
		WHERE user_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.SignalEvent{}
	for rows.Next() {
		event := models.SignalEvent{UserID: &userID}
		var payload, result []byte
		err := rows.Scan(
			&event.ID, &event.WebhookID, &payload, &result,
			&event.Processed, &event.ReceivedAt, &event.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		event.Payload = payload
		event.Result = result
		events = append(events, event)
	}

	return events, rows.Err()
}
