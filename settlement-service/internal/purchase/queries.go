package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/cache"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
)

const statusLoadTimeout = 5 * time.Second

// GetPaymentStatus is cache-aside: final statuses are served from the cache,
// misses for the same order share one database read. The shared read runs on
// its own deadline so one caller going away does not fail the others.
func (s *Service) GetPaymentStatus(ctx context.Context, actor, orderID string) (*cache.PaymentStatus, error) {
	v, err, _ := s.sfg.Do(orderID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusLoadTimeout)
		defer cancel()

		status, err := s.cache.Get(ctx, orderID)
		if err == nil {
			return status, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("status cache read failed", "order_id", orderID, "error", err)
		}

		order, err := s.loadOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		status = cache.StatusOf(order)

		// a fill racing a transition's Delete must not resurrect a status
		// that can still change
		if status.Final() {
			s.cacheWrite.Add(1)
			go func() {
				defer s.cacheWrite.Done()
				if err := s.cache.Set(context.Background(), status); err != nil {
					s.log.Warn("status cache write failed", "order_id", orderID, "error", err)
				}
			}()
		}
		return status, nil
	})
	if err != nil {
		return nil, err
	}

	status := v.(*cache.PaymentStatus)
	if status.BuyerRef != actor {
		return nil, hiddenOrder(actor, orderID)
	}
	return status, nil
}

// ListHistory returns the actor's purchases, newest first.
func (s *Service) ListHistory(ctx context.Context, actor string, filter domain.HistoryFilter) (*domain.Page, error) {
	if filter.MinAmount != nil && filter.MaxAmount != nil && filter.MinAmount.GreaterThan(*filter.MaxAmount) {
		return nil, (&domain.ValidationError{}).Add("min_amount", "must not exceed max_amount")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, (&domain.ValidationError{}).Add("from", "must not be after to")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, (&domain.ValidationError{}).Add("status", "unknown payment status")
	}

	filter.BuyerRef = actor
	filter.Normalize()
	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return &domain.Page{Orders: orders, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// GetDetails returns the full order to its buyer or seller.
func (s *Service) GetDetails(ctx context.Context, actor, orderID string) (*domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerRef != actor && order.SellerRef != actor {
		return nil, hiddenOrder(actor, orderID)
	}
	return order, nil
}

// hiddenOrder answers a non-owner as if the order did not exist, so order ids
// cannot be enumerated. The authorization cause stays in the chain.
func hiddenOrder(actor, orderID string) error {
	return &domain.NotFoundError{
		Kind: "order",
		ID:   orderID,
		Err:  &domain.AuthorizationError{Actor: actor, OrderID: orderID},
	}
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, &domain.NotFoundError{Kind: "order", ID: orderID, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}
