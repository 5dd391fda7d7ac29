package cache

import (
	"testing"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPaymentStatus_Final(t *testing.T) {
	tests := []struct {
		status   domain.PaymentStatus
		received bool
		want     bool
	}{
		{domain.PaymentStatusPending, false, false},
		{domain.PaymentStatusCompleted, false, false},
		{domain.PaymentStatusCompleted, true, true},
		{domain.PaymentStatusFailed, false, true},
		{domain.PaymentStatusRefunded, false, false},
	}
	for _, tt := range tests {
		s := &PaymentStatus{Status: tt.status, ReceivedSuccessfully: tt.received}
		assert.Equal(t, tt.want, s.Final(), "%s received=%v", tt.status, tt.received)
	}
}
