// Package webhook validates gateway callbacks and applies them to the ledger.
// Every entry point returns an acknowledgement; errors and panics stop here.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway/wallet"
	"github.com/fjod/studenthub/settlement-service/internal/ledger"
	"github.com/fjod/studenthub/settlement-service/internal/metrics"
	"github.com/shopspring/decimal"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

type Ledger interface {
	Complete(ctx context.Context, orderID, transactionID string) (*domain.Order, ledger.Outcome, error)
	Fail(ctx context.Context, orderID, code, message string) (*domain.Order, ledger.Outcome, error)
}

type WalletVerifier interface {
	VerifyNotification(n *wallet.Notification) bool
}

type BankVerifier interface {
	VerifyInbound(params url.Values) bool
}

type Processor struct {
	orders  OrderReader
	ledger  Ledger
	wallet  WalletVerifier
	bank    BankVerifier
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewProcessor(orders OrderReader, l Ledger, w WalletVerifier, b BankVerifier, log *slog.Logger, m *metrics.Metrics) *Processor {
	if m == nil {
		m = metrics.Discard()
	}
	return &Processor{orders: orders, ledger: l, wallet: w, bank: b, log: log, metrics: m}
}

type result int

const (
	resultSuccess result = iota
	resultAlreadyProcessed
	resultNotFound
	resultAmountMismatch
	resultBadSignature
	resultUnknown
)

// callback is a verified notification reduced to what the ledger needs.
type callback struct {
	orderID       string
	amount        decimal.Decimal
	succeeded     bool
	transactionID string
	failCode      string
	failMessage   string
}

// apply runs lookup, amount check, pending check and transition in that order.
func (p *Processor) apply(ctx context.Context, log *slog.Logger, cb callback) result {
	order, err := p.orders.GetOrder(ctx, cb.orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.Warn("callback for unknown order")
		return resultNotFound
	}
	if err != nil {
		log.Error("failed to load order", "error", err)
		return resultUnknown
	}

	if !order.Amount.Equal(cb.amount) {
		log.Warn("callback amount mismatch",
			"expected", order.Amount.String(),
			"notified", cb.amount.String())
		return resultAmountMismatch
	}

	if order.PaymentStatus != domain.PaymentStatusPending {
		log.Info("callback for processed order", "status", order.PaymentStatus)
		return resultAlreadyProcessed
	}

	var outcome ledger.Outcome
	if cb.succeeded {
		_, outcome, err = p.ledger.Complete(ctx, cb.orderID, cb.transactionID)
	} else {
		_, outcome, err = p.ledger.Fail(ctx, cb.orderID, cb.failCode, cb.failMessage)
	}
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return resultNotFound
	case err != nil:
		log.Error("failed to apply callback", "error", err)
		return resultUnknown
	case outcome == ledger.AlreadyProcessed:
		return resultAlreadyProcessed
	}
	log.Info("callback applied", "succeeded", cb.succeeded)
	return resultSuccess
}

func (p *Processor) recoverPanic(gatewayName string, fallback func()) {
	if r := recover(); r != nil {
		p.log.Error("panic while processing callback", "gateway", gatewayName, "panic", r)
		fallback()
	}
}
