package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the cached answer to get-payment-status.
type PaymentStatus struct {
	OrderID              string               `json:"order_id"`
	BuyerRef             string               `json:"buyer_ref"`
	Status               domain.PaymentStatus `json:"status"`
	PaymentMethod        domain.PaymentMethod `json:"payment_method"`
	Amount               decimal.Decimal      `json:"amount"`
	TransactionID        string               `json:"transaction_id,omitempty"`
	ErrorCode            string               `json:"error_code,omitempty"`
	ErrorMessage         string               `json:"error_message,omitempty"`
	ReceivedSuccessfully bool                 `json:"received_successfully"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

func StatusOf(o *domain.Order) *PaymentStatus {
	return &PaymentStatus{
		OrderID:              o.OrderID,
		BuyerRef:             o.BuyerRef,
		Status:               o.PaymentStatus,
		PaymentMethod:        o.PaymentMethod,
		Amount:               o.Amount,
		TransactionID:        o.TransactionID,
		ErrorCode:            o.ErrorCode,
		ErrorMessage:         o.ErrorMessage,
		ReceivedSuccessfully: o.ReceivedSuccessfully,
		UpdatedAt:            o.UpdatedAt,
	}
}

// Final reports whether no later transition can change the status. A
// completed order can still be cancelled until the buyer confirms receipt.
func (p *PaymentStatus) Final() bool {
	switch p.Status {
	case domain.PaymentStatusFailed:
		return true
	case domain.PaymentStatusCompleted:
		return p.ReceivedSuccessfully
	default:
		return false
	}
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (*PaymentStatus, error)
	Set(ctx context.Context, status *PaymentStatus) error
	Delete(ctx context.Context, orderID string) error
}

var ErrCacheMiss = errors.New("cache miss")
