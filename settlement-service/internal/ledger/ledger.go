// Package ledger applies order state transitions and keeps the product
// collaborator in step with them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/studenthub/settlement-service/internal/catalog"
	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/metrics"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
)

// Outcome tells a caller whether a gateway transition changed the order.
type Outcome int

const (
	Applied Outcome = iota
	AlreadyProcessed
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "already_processed"
}

type Store interface {
	repository.OrderRepository
	repository.ReconciliationRepository
}

// Invalidator drops cached views of an order after it changes.
type Invalidator interface {
	Delete(ctx context.Context, orderID string) error
}

type Service struct {
	store    Store
	products catalog.ProductStore
	cache    Invalidator
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(store Store, products catalog.ProductStore, cache Invalidator, clk clock.Clock, log *slog.Logger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{
		store:    store,
		products: products,
		cache:    cache,
		clock:    clk,
		log:      log,
		metrics:  m,
	}
}

// Complete moves a pending order to completed. A replay on a settled order
// returns AlreadyProcessed and touches nothing.
func (s *Service) Complete(ctx context.Context, orderID, transactionID string) (*domain.Order, Outcome, error) {
	now := s.clock.Now()
	order, err := s.store.UpdateOrder(ctx, orderID, func(o *domain.Order) ([]domain.Event, error) {
		if err := o.MarkCompleted(transactionID, now); err != nil {
			return nil, err
		}
		o.RecomputeCommission()
		return []domain.Event{domain.NewOrderEvent(domain.EventOrderCompleted, o, "", now)}, nil
	})
	if err != nil {
		return s.notApplied(ctx, orderID, err)
	}

	s.metrics.Transitions.WithLabelValues(string(domain.PaymentStatusCompleted)).Inc()
	s.invalidate(ctx, orderID)
	s.log.Info("order completed",
		"order_id", orderID,
		"transaction_id", transactionID,
		"admin_commission", order.AdminCommission.String(),
		"seller_amount", order.SellerAmount.String())

	s.syncProduct(ctx, order, repository.ProductSold)
	return order, Applied, nil
}

// Fail moves a pending order to failed with the gateway's error.
func (s *Service) Fail(ctx context.Context, orderID, code, message string) (*domain.Order, Outcome, error) {
	now := s.clock.Now()
	order, err := s.store.UpdateOrder(ctx, orderID, func(o *domain.Order) ([]domain.Event, error) {
		if err := o.MarkFailed(code, message, now); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewOrderEvent(domain.EventOrderFailed, o, message, now)}, nil
	})
	if err != nil {
		return s.notApplied(ctx, orderID, err)
	}

	s.metrics.Transitions.WithLabelValues(string(domain.PaymentStatusFailed)).Inc()
	s.invalidate(ctx, orderID)
	s.log.Info("order failed", "order_id", orderID, "error_code", code, "error_message", message)
	return order, Applied, nil
}

func (s *Service) notApplied(ctx context.Context, orderID string, err error) (*domain.Order, Outcome, error) {
	switch {
	case errors.Is(err, domain.ErrNotPending):
		current, gerr := s.store.GetOrder(ctx, orderID)
		if gerr != nil {
			return nil, AlreadyProcessed, fmt.Errorf("load processed order: %w", gerr)
		}
		s.log.Info("order already processed", "order_id", orderID, "status", current.PaymentStatus)
		return current, AlreadyProcessed, nil
	case errors.Is(err, domain.ErrOrderNotFound):
		return nil, Applied, &domain.NotFoundError{Kind: "order", ID: orderID, Err: err}
	default:
		return nil, Applied, fmt.Errorf("update order %s: %w", orderID, err)
	}
}

// Cancel is the buyer-driven move to failed. It is allowed while the order
// is not failed, not received and inside the edit window.
func (s *Service) Cancel(ctx context.Context, orderID, actor, reason string) (*domain.Order, error) {
	now := s.clock.Now()
	// only a completed order marked the product sold
	var heldProduct bool
	order, err := s.store.UpdateOrder(ctx, orderID, func(o *domain.Order) ([]domain.Event, error) {
		switch {
		case o.PaymentStatus == domain.PaymentStatusFailed:
			return nil, &domain.StateConflictError{OrderID: o.OrderID, Reason: "already cancelled or failed", Err: domain.ErrAlreadyFailed}
		case o.ReceivedSuccessfully:
			return nil, &domain.StateConflictError{OrderID: o.OrderID, Reason: "already received", Err: domain.ErrAlreadyConfirmed}
		case !o.WithinEditWindow(now):
			return nil, &domain.StateConflictError{OrderID: o.OrderID, Reason: "window expired", Err: domain.ErrWindowExpired}
		}
		heldProduct = o.PaymentStatus == domain.PaymentStatusCompleted
		o.PaymentStatus = domain.PaymentStatusFailed
		o.ErrorCode = "cancelled"
		o.ErrorMessage = reason
		o.ReceivedSuccessfullyDeadline = nil
		o.ExtraData = domain.CancellationData(domain.Cancellation{Actor: actor, Reason: reason, At: now})
		o.UpdatedAt = now
		return []domain.Event{domain.NewOrderEvent(domain.EventOrderCancelled, o, reason, now)}, nil
	})
	if err != nil {
		return nil, s.wrapUpdateErr(orderID, err)
	}

	s.metrics.Transitions.WithLabelValues("cancelled").Inc()
	s.invalidate(ctx, orderID)
	s.log.Info("order cancelled", "order_id", orderID, "actor", actor)

	if heldProduct {
		s.syncProduct(ctx, order, repository.ProductAvailable)
	}
	return order, nil
}

// ConfirmReceipt is the manual receipt confirmation. The scheduler uses the
// same flag, so whichever writes first wins and the other sees
// ErrAlreadyConfirmed.
func (s *Service) ConfirmReceipt(ctx context.Context, orderID string) (*domain.Order, error) {
	now := s.clock.Now()
	order, err := s.store.UpdateOrder(ctx, orderID, func(o *domain.Order) ([]domain.Event, error) {
		if err := o.ConfirmReceipt(now); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewOrderEvent(domain.EventReceiptConfirmed, o, "buyer", now)}, nil
	})
	if err != nil {
		return nil, s.wrapUpdateErr(orderID, err)
	}
	s.invalidate(ctx, orderID)
	s.log.Info("receipt confirmed", "order_id", orderID, "source", "buyer")
	return order, nil
}

func (s *Service) UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error) {
	now := s.clock.Now()
	order, err := s.store.UpdateOrder(ctx, orderID, func(o *domain.Order) ([]domain.Event, error) {
		if o.ReceivedSuccessfully {
			return nil, &domain.StateConflictError{OrderID: o.OrderID, Reason: "already received", Err: domain.ErrAlreadyConfirmed}
		}
		if !o.WithinEditWindow(now) {
			return nil, &domain.StateConflictError{OrderID: o.OrderID, Reason: "window expired", Err: domain.ErrWindowExpired}
		}
		o.ShippingAddress = address
		o.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return nil, s.wrapUpdateErr(orderID, err)
	}
	return order, nil
}

// RepairCommission rewrites the derived commission fields from the stored
// amount and rate. The rate itself is left alone.
func (s *Service) RepairCommission(ctx context.Context, orderID string) (*domain.Order, bool, error) {
	var changed bool
	now := s.clock.Now()
	order, err := s.store.UpdateOrder(ctx, orderID, func(o *domain.Order) ([]domain.Event, error) {
		changed = !o.CommissionConsistent()
		if !changed {
			return nil, nil
		}
		o.RecomputeCommission()
		o.UpdatedAt = now
		return []domain.Event{domain.NewOrderEvent(domain.EventCommissionRecalculated, o, "repair", now)}, nil
	})
	if err != nil {
		return nil, false, s.wrapUpdateErr(orderID, err)
	}
	if changed {
		s.invalidate(ctx, orderID)
		s.log.Warn("commission repaired", "order_id", orderID,
			"admin_commission", order.AdminCommission.String(),
			"seller_amount", order.SellerAmount.String())
	}
	return order, changed, nil
}

func (s *Service) wrapUpdateErr(orderID string, err error) error {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return &domain.NotFoundError{Kind: "order", ID: orderID, Err: err}
	}
	var conflict *domain.StateConflictError
	if errors.As(err, &conflict) {
		return err
	}
	if errors.Is(err, domain.ErrAlreadyConfirmed) || errors.Is(err, domain.ErrNotPending) {
		return &domain.StateConflictError{OrderID: orderID, Reason: err.Error(), Err: err}
	}
	return fmt.Errorf("update order %s: %w", orderID, err)
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, orderID); err != nil {
		s.log.Warn("failed to invalidate status cache", "order_id", orderID, "error", err)
	}
}
