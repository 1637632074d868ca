package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePaymentStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want PaymentStatus
	}{
		{"PAID", StatusPaid},
		{"SUCCESS", StatusPaid},
		{"OK", StatusPaid},
		{"PAYMENT_SUCCESS", StatusPaid},
		{"paid", StatusPaid},
		{" success ", StatusPaid},
		{"PENDING", StatusPending},
		{"ACTIVE", StatusPending},
		{"FAILED", StatusFailed},
		{"CANCELLED", StatusFailed},
		{"USER_DROPPED", StatusFailed},
		{"COMPLETED", StatusCompleted},
		{"SOMETHING_ELSE", StatusOther},
		{"", StatusOther},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ParsePaymentStatus(tc.raw), "raw=%q", tc.raw)
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.False(t, StatusOther.Terminal())
}
