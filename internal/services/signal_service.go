package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/tradeflow/backend/internal/config"
)

// SignalService receives inbound trading-alert webhooks. Every delivery
// is persisted as a webhook_logs row, resolved account or not, and the
// alert source is always acknowledged with 200 so its retry policy never
// triggers on our storage trouble.
type SignalService struct {
	db       *sql.DB
	redis    *redis.Client
	accounts *AccountStore
	cfg      *config.WebhookConfig
}

func NewSignalService(db *sql.DB, redisClient *redis.Client, accounts *AccountStore, cfg *config.WebhookConfig) *SignalService {
	return &SignalService{
		db:       db,
		redis:    redisClient,
		accounts: accounts,
		cfg:      cfg,
	}
}

// Liveness answers GET /webhook/{id} so users can probe their webhook
// address from the dashboard.
func (ss *SignalService) Liveness(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Webhook endpoint is active",
		"webhookId": webhookID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReceiveSignal handles POST /webhook/{id}.
func (ss *SignalService) ReceiveSignal(w http.ResponseWriter, r *http.Request) {
	webhookID := strings.TrimSpace(chi.URLParam(r, "id"))
	if webhookID == "" {
		SendErrorResponse(w, "webhook id is required", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[SIGNAL] Failed to read body for %s: %v", webhookID, err)
		body = nil
	}

	payload := parseSignalBody(r.Header.Get("Content-Type"), body)
	receivedAt := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), ss.cfg.StoreTimeout)
	defer cancel()

	userID, err := ss.accounts.ResolveWebhookID(ctx, webhookID)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[SIGNAL] Account lookup failed for %s: %v", webhookID, err)
		}
		userID = ""
	}
	if userID == "" {
		signalsReceived.WithLabelValues("unresolved").Inc()
		log.Printf("[SIGNAL] No account for webhook id %s, logging without owner", webhookID)
	}

	logID, err := ss.insertEvent(ctx, userID, webhookID, payload, receivedAt)
	if err != nil && userID != "" && isForeignKeyViolation(err) {
		// The resolved account id is stale. Retry without it rather than
		// losing the event to a dangling reference.
		log.Printf("[SIGNAL] Stale account reference %s for %s, retrying without it", userID, webhookID)
		signalsReceived.WithLabelValues("fk_retry").Inc()
		logID, err = ss.insertEvent(ctx, "", webhookID, payload, receivedAt)
	}
	if err != nil {
		log.Printf("[SIGNAL] Failed to store signal event for %s: %v", webhookID, err)
		signalsReceived.WithLabelValues("store_error").Inc()
		// Acknowledge anyway; visibility to the alert source wins over
		// audit completeness.
		ss.writeAck(w, 0, brokerResult("ERROR", "signal received but could not be logged"))
		return
	}

	broker := brokerResult("SIMULATED", "signal accepted; no live broker execution")
	if err := ss.completeEvent(ctx, logID, broker); err != nil {
		log.Printf("[SIGNAL] Failed to finalize log %d: %v", logID, err)
	}

	ss.queueSignal(ctx, logID, webhookID, payload)

	signalsReceived.WithLabelValues("ok").Inc()
	ss.writeAck(w, logID, broker)
}

func (ss *SignalService) insertEvent(ctx context.Context, userID, webhookID string, payload json.RawMessage, receivedAt time.Time) (int64, error) {
	var uid sql.NullString
	if userID != "" {
		uid = sql.NullString{String: userID, Valid: true}
	}

	var id int64
	err := ss.db.QueryRowContext(ctx, `
		INSERT INTO webhook_logs (user_id, webhook_id, payload, received_at, processed)
		VALUES ($1, $2, $3, $4, false)
		RETURNING id
	`, uid, webhookID, []byte(payload), receivedAt).Scan(&id)
	return id, err
}

// completeEvent stamps processing start and completion on the log row.
// No real trade execution happens here; the result is the synthesized
// broker acknowledgement.
func (ss *SignalService) completeEvent(ctx context.Context, logID int64, broker map[string]interface{}) error {
	startedAt := time.Now()
	_, err := ss.db.ExecContext(ctx, `
		UPDATE webhook_logs SET processing_started_at = $1 WHERE id = $2
	`, startedAt, logID)
	if err != nil {
		return err
	}

	result, err := json.Marshal(broker)
	if err != nil {
		return err
	}
	_, err = ss.db.ExecContext(ctx, `
		UPDATE webhook_logs
		SET processed = true, result = $1, processed_at = $2
		WHERE id = $3
	`, result, time.Now(), logID)
	return err
}

// queueSignal pushes the accepted event onto the Redis list downstream
// executors consume. Best effort; ingestion does not depend on it.
func (ss *SignalService) queueSignal(ctx context.Context, logID int64, webhookID string, payload json.RawMessage) {
	if ss.redis == nil {
		return
	}
	msg, err := json.Marshal(map[string]interface{}{
		"log_id":     logID,
		"webhook_id": webhookID,
		"payload":    payload,
	})
	if err != nil {
		return
	}
	if err := ss.redis.RPush(ctx, ss.cfg.SignalQueueKey, msg).Err(); err != nil {
		log.Printf("[SIGNAL] Failed to queue signal %d: %v", logID, err)
	}
}

func (ss *SignalService) writeAck(w http.ResponseWriter, logID int64, broker map[string]interface{}) {
	resp := map[string]interface{}{
		"success":         true,
		"message":         "Webhook received",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"broker_response": broker,
	}
	if logID > 0 {
		resp["log_id"] = logID
	}
	writeJSON(w, http.StatusOK, resp)
}

func brokerResult(status, message string) map[string]interface{} {
	return map[string]interface{}{
		"status":  status,
		"message": message,
	}
}

// parseSignalBody turns whatever the alert source sent into a stored
// JSON payload. Parsing failures are absorbed into the payload, never
// surfaced to the caller.
func parseSignalBody(contentType string, body []byte) json.RawMessage {
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		if json.Valid(body) && len(body) > 0 {
			return json.RawMessage(body)
		}
		return mustJSON(map[string]string{
			"error": "invalid json",
			"raw":   string(body),
		})

	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return mustJSON(map[string]string{
				"error": "invalid form body",
				"raw":   string(body),
			})
		}
		flat := make(map[string]string, len(values))
		for key := range values {
			flat[key] = values.Get(key)
		}
		return mustJSON(flat)

	case "text/plain", "":
		if json.Valid(body) && len(body) > 0 {
			return json.RawMessage(body)
		}
		return mustJSON(map[string]string{
			"raw_text": string(body),
		})

	default:
		// Unsupported type: keep the bytes plus the declared type so
		// nothing is silently lost.
		return mustJSON(map[string]string{
			"raw":          string(body),
			"content_type": contentType,
		})
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
