package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement event types written to the outbox.
const (
	EventOrderCompleted         = "order.completed"
	EventOrderFailed            = "order.failed"
	EventOrderCancelled         = "order.cancelled"
	EventReceiptConfirmed       = "order.receipt_confirmed"
	EventReconciliationRequired = "order.reconciliation_required"
	EventCommissionRecalculated = "order.commission_recalculated"
)

// Event is a settlement fact recorded in the same transaction as the order
// change that caused it.
type Event struct {
	Type        string
	AggregateID string
	Payload     json.RawMessage
}

type orderEventPayload struct {
	OrderID         string          `json:"order_id"`
	Status          PaymentStatus   `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	AdminCommission decimal.Decimal `json:"admin_commission"`
	SellerAmount    decimal.Decimal `json:"seller_amount"`
	ProductRef      string          `json:"product_ref"`
	BuyerRef        string          `json:"buyer_ref"`
	SellerRef       string          `json:"seller_ref"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// NewOrderEvent snapshots o into an event of the given type.
func NewOrderEvent(eventType string, o *Order, reason string, at time.Time) Event {
	payload, _ := json.Marshal(orderEventPayload{
		OrderID:         o.OrderID,
		Status:          o.PaymentStatus,
		Amount:          o.Amount,
		AdminCommission: o.AdminCommission,
		SellerAmount:    o.SellerAmount,
		ProductRef:      o.ProductRef,
		BuyerRef:        o.BuyerRef,
		SellerRef:       o.SellerRef,
		PaymentMethod:   o.PaymentMethod,
		TransactionID:   o.TransactionID,
		ErrorCode:       o.ErrorCode,
		Reason:          reason,
		OccurredAt:      at,
	})
	return Event{Type: eventType, AggregateID: o.OrderID, Payload: payload}
}
