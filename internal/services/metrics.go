package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	signalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_signal_webhooks_total",
		Help: "Inbound signal webhook deliveries by outcome",
	}, []string{"outcome"})

	paymentWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_payment_webhooks_total",
		Help: "Inbound payment gateway notifications by outcome",
	}, []string{"outcome"})
)
