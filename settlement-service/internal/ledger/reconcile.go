package ledger

import (
	"context"
	"fmt"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
)

const reconcileBatch = 100

// syncProduct is the second step of the order to product saga. The order is
// already committed, so a product failure is recorded for retry instead of
// being returned.
func (s *Service) syncProduct(ctx context.Context, o *domain.Order, target string) {
	err := s.applyProductState(ctx, o.ProductRef, o.BuyerRef, target)
	if err == nil {
		return
	}

	s.log.Warn("product update failed, recording for reconciliation",
		"order_id", o.OrderID,
		"product_ref", o.ProductRef,
		"target_state", target,
		"error", err)

	entry := &repository.ReconciliationEntry{
		OrderID:     o.OrderID,
		ProductRef:  o.ProductRef,
		BuyerRef:    o.BuyerRef,
		TargetState: target,
		LastError:   err.Error(),
		CreatedAt:   s.clock.Now(),
	}
	if rerr := s.store.RecordReconciliation(context.WithoutCancel(ctx), entry); rerr != nil {
		s.log.Error("failed to record reconciliation entry",
			"order_id", o.OrderID,
			"product_ref", o.ProductRef,
			"error", rerr)
	}
}

func (s *Service) applyProductState(ctx context.Context, productRef, buyerRef, target string) error {
	switch target {
	case repository.ProductSold:
		return s.products.MarkSold(ctx, productRef, buyerRef)
	case repository.ProductAvailable:
		return s.products.MarkAvailable(ctx, productRef, buyerRef)
	default:
		return fmt.Errorf("unknown product target state %q", target)
	}
}

// ReconcileProducts retries every unresolved product update once. It returns
// how many entries it resolved.
func (s *Service) ReconcileProducts(ctx context.Context) (int, error) {
	entries, err := s.store.ListUnresolvedReconciliations(ctx, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list reconciliation entries: %w", err)
	}

	resolved := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}

		if err := s.applyProductState(ctx, e.ProductRef, e.BuyerRef, e.TargetState); err != nil {
			s.metrics.ReconciliationTotal.WithLabelValues("failed").Inc()
			s.log.Warn("product reconciliation attempt failed",
				"entry_id", e.ID,
				"order_id", e.OrderID,
				"attempts", e.Attempts+1,
				"error", err)
			if ferr := s.store.FailReconciliationAttempt(ctx, e.ID, err.Error()); ferr != nil {
				return resolved, fmt.Errorf("record failed attempt %d: %w", e.ID, ferr)
			}
			continue
		}

		if err := s.store.ResolveReconciliation(ctx, e.ID, s.clock.Now()); err != nil {
			return resolved, fmt.Errorf("resolve entry %d: %w", e.ID, err)
		}
		s.metrics.ReconciliationTotal.WithLabelValues("resolved").Inc()
		s.log.Info("product reconciled", "entry_id", e.ID, "order_id", e.OrderID, "target_state", e.TargetState)
		resolved++
	}
	return resolved, nil
}
