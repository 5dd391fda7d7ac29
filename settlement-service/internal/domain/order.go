package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodBank   PaymentMethod = "bank"
	PaymentMethodCash   PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodWallet, PaymentMethodBank, PaymentMethodCash:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// String representation (for logging)
func (s PaymentStatus) String() string {
	return string(s)
}

const (
	// ReceiptWindow is how long after completion the buyer has to confirm
	// receipt before the scheduler confirms it for them.
	ReceiptWindow = 7 * 24 * time.Hour

	// EditWindow gates buyer edits and cancellation, counted from creation.
	EditWindow = 6 * time.Hour
)

// Order is a single purchase ledger entry. Rows are mutated in place and
// never deleted.
type Order struct {
	OrderID         string
	RequestID       string
	Amount          decimal.Decimal
	ProductRef      string
	ProductCategory string
	BuyerRef        string
	SellerRef       string
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus

	AdminCommissionRate decimal.Decimal
	AdminCommission     decimal.Decimal
	SellerAmount        decimal.Decimal

	ShippingAddress string
	TransactionID   string
	PayURL          string
	ExtraData       ExtraData
	ErrorCode       string
	ErrorMessage    string

	ReceivedSuccessfully         bool
	ReceivedSuccessfullyDeadline *time.Time
	ReceivedConfirmedAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransitionTo reports whether a gateway-driven status change is allowed.
// Only pending orders move, and only to completed or failed.
func CanTransitionTo(from, to PaymentStatus) bool {
	if from != PaymentStatusPending {
		return false
	}
	return to == PaymentStatusCompleted || to == PaymentStatusFailed
}

// MarkCompleted applies the gateway success transition.
func (o *Order) MarkCompleted(transactionID string, now time.Time) error {
	if !CanTransitionTo(o.PaymentStatus, PaymentStatusCompleted) {
		return ErrNotPending
	}
	deadline := now.Add(ReceiptWindow)
	o.PaymentStatus = PaymentStatusCompleted
	o.TransactionID = transactionID
	o.ErrorCode = ""
	o.ErrorMessage = ""
	o.ReceivedSuccessfullyDeadline = &deadline
	o.UpdatedAt = now
	return nil
}

// MarkFailed applies the gateway failure transition.
func (o *Order) MarkFailed(code, message string, now time.Time) error {
	if !CanTransitionTo(o.PaymentStatus, PaymentStatusFailed) {
		return ErrNotPending
	}
	o.PaymentStatus = PaymentStatusFailed
	o.ErrorCode = code
	o.ErrorMessage = message
	o.UpdatedAt = now
	return nil
}

// ConfirmReceipt flips ReceivedSuccessfully. It succeeds at most once.
func (o *Order) ConfirmReceipt(now time.Time) error {
	if o.ReceivedSuccessfully {
		return ErrAlreadyConfirmed
	}
	if o.PaymentStatus != PaymentStatusCompleted {
		return &StateConflictError{OrderID: o.OrderID, Reason: "payment is not completed", Err: ErrNotCompleted}
	}
	o.ReceivedSuccessfully = true
	o.ReceivedConfirmedAt = &now
	o.UpdatedAt = now
	return nil
}

// WithinEditWindow reports whether now is inside the buyer edit/cancel window.
func (o *Order) WithinEditWindow(now time.Time) bool {
	return now.Sub(o.CreatedAt) <= EditWindow
}

// ReceiptDue reports whether the scheduler should auto-confirm this order.
func (o *Order) ReceiptDue(now time.Time) bool {
	return o.PaymentStatus == PaymentStatusCompleted &&
		!o.ReceivedSuccessfully &&
		o.ReceivedSuccessfullyDeadline != nil &&
		!o.ReceivedSuccessfullyDeadline.After(now)
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (o *Order) Clone() *Order {
	c := *o
	if o.ReceivedSuccessfullyDeadline != nil {
		d := *o.ReceivedSuccessfullyDeadline
		c.ReceivedSuccessfullyDeadline = &d
	}
	if o.ReceivedConfirmedAt != nil {
		d := *o.ReceivedConfirmedAt
		c.ReceivedConfirmedAt = &d
	}
	c.ExtraData = o.ExtraData.Clone()
	return &c
}
