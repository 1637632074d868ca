package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func newOpsTestRouter(service *OpsService) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/signals", service.GetRecentSignals)
	r.Get("/signals/{logId}", service.GetSignal)
	r.Get("/payments/orders/{orderId}", service.GetPaymentOrder)
	r.Get("/webhook-url", service.GetWebhookURL)
	return r
}

func authedRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(context.WithValue(req.Context(), "userID", "user-1"))
}

func TestOpsService_GetRecentSignals(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	cfg := testWebhookConfig()
	service := NewOpsService(db, NewAccountStore(db, cfg.PublicBaseURL), cfg)
	router := newOpsTestRouter(service)

	t.Run("returns events for the caller", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT id, webhook_id, payload, result, processed, received_at, processed_at FROM webhook_logs`).
			WithArgs("user-1", 20).
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "webhook_id", "payload", "result", "processed", "received_at", "processed_at"}).
				AddRow(int64(1), "hook-1", []byte(`{"a":1}`), []byte(`{"status":"SIMULATED"}`), true, now, now).
				AddRow(int64(2), "hook-1", []byte(`{"b":2}`), nil, false, now, nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("GET", "/signals"))

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(2), response["count"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects out-of-range limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("GET", "/signals?limit=500"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/signals", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOpsService_GetPaymentOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	cfg := testWebhookConfig()
	service := NewOpsService(db, NewAccountStore(db, cfg.PublicBaseURL), cfg)
	router := newOpsTestRouter(service)

	t.Run("found", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT id, order_id, user_id, amount, currency, status`).
			WithArgs("ord_123", "user-1").
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "order_id", "user_id", "amount", "currency", "status", "created_at", "updated_at"}).
				AddRow(int64(1), "ord_123", "user-1", 100.0, "INR", "COMPLETED", now, now))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("GET", "/payments/orders/ord_123"))

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "COMPLETED", response["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, order_id, user_id, amount, currency, status`).
			WithArgs("nope", "user-1").
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("GET", "/payments/orders/nope"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOpsService_GetWebhookURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	cfg := testWebhookConfig()
	service := NewOpsService(db, NewAccountStore(db, cfg.PublicBaseURL), cfg)
	router := newOpsTestRouter(service)

	mock.ExpectQuery(`SELECT webhook_id FROM accounts WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"webhook_id"}).AddRow("hook-1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/webhook-url"))

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "hook-1", response["webhookId"])
	assert.Equal(t, "http://localhost:8080/webhook/hook-1", response["url"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
