// Package scheduler runs the periodic receipt auto-confirmation job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/ledger"
	"github.com/fjod/studenthub/settlement-service/internal/metrics"
)

type Store interface {
	FindDueReceipts(ctx context.Context, now time.Time) ([]*domain.Order, error)
	ConfirmDueReceipts(ctx context.Context, now time.Time) (int64, error)
}

type Scheduler struct {
	store    Store
	cache    ledger.Invalidator
	clock    clock.Clock
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	busy atomic.Bool
}

func New(store Store, cache ledger.Invalidator, clk clock.Clock, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Scheduler{
		store:    store,
		cache:    cache,
		clock:    clk,
		interval: interval,
		log:      log.With("component", "receipt_scheduler"),
		metrics:  m,
	}
}

type TickResult struct {
	Skipped    bool
	Prefetched int
	Confirmed  int64
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("receipt scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.log.Error("receipt scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			s.log.Info("receipt scheduler stopped")
			return
		}
	}
}

// Tick confirms every order whose receipt deadline has passed. A tick that
// starts while another is still running returns Skipped.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.SchedulerTicks.WithLabelValues("skipped").Inc()
		s.log.Warn("previous tick still running, skipping")
		return TickResult{Skipped: true}, nil
	}
	defer s.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	now := s.clock.Now()
	due, err := s.store.FindDueReceipts(ctx, now)
	if err != nil {
		s.metrics.SchedulerTicks.WithLabelValues("error").Inc()
		return TickResult{}, fmt.Errorf("prefetch due receipts: %w", err)
	}

	confirmed, err := s.store.ConfirmDueReceipts(ctx, now)
	if err != nil {
		s.metrics.SchedulerTicks.WithLabelValues("error").Inc()
		return TickResult{Prefetched: len(due)}, fmt.Errorf("confirm due receipts: %w", err)
	}

	// the prefetched set is only used for the audit trail
	for _, o := range due {
		s.log.Info("receipt auto-confirmed",
			"order_id", o.OrderID,
			"buyer_ref", o.BuyerRef,
			"seller_ref", o.SellerRef,
			"deadline", o.ReceivedSuccessfullyDeadline,
			"confirmed_at", now)
		if s.cache != nil {
			if err := s.cache.Delete(ctx, o.OrderID); err != nil {
				s.log.Warn("failed to invalidate status cache", "order_id", o.OrderID, "error", err)
			}
		}
	}
	if confirmed != int64(len(due)) {
		s.log.Warn("confirmed count differs from prefetched set",
			"prefetched", len(due),
			"confirmed", confirmed)
	}

	s.metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	s.metrics.ReceiptsConfirmed.Add(float64(confirmed))
	s.log.Info("receipt scheduler tick finished", "confirmed", confirmed)
	return TickResult{Prefetched: len(due), Confirmed: confirmed}, nil
}
