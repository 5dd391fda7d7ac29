package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

func newTestOrder(id string, created time.Time) *domain.Order {
	return &domain.Order{
		OrderID:             id,
		RequestID:           "req-" + id,
		Amount:              decimal.NewFromInt(100000),
		ProductRef:          "product-" + id,
		ProductCategory:     "books",
		BuyerRef:            "buyer-1",
		SellerRef:           "seller-1",
		PaymentMethod:       domain.PaymentMethodWallet,
		PaymentStatus:       domain.PaymentStatusPending,
		AdminCommissionRate: decimal.RequireFromString("0.1"),
		CreatedAt:           created,
		UpdatedAt:           created,
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	o := newTestOrder("o1", baseTime)
	require.NoError(t, repo.CreateOrder(ctx, o))
	assert.True(t, o.AdminCommission.Equal(decimal.NewFromInt(10000)), "create computes commission")

	got, err := repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, got.CommissionConsistent())

	got.PaymentStatus = domain.PaymentStatusFailed
	again, _ := repo.GetOrder(ctx, "o1")
	assert.Equal(t, domain.PaymentStatusPending, again.PaymentStatus, "returned orders are copies")

	assert.ErrorIs(t, repo.CreateOrder(ctx, newTestOrder("o1", baseTime)), domain.ErrDuplicateOrder)

	_, err = repo.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemory_UpdateOrder_AbortsOnError(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newTestOrder("o1", baseTime)))

	boom := errors.New("boom")
	_, err := repo.UpdateOrder(ctx, "o1", func(o *domain.Order) ([]domain.Event, error) {
		o.PaymentStatus = domain.PaymentStatusCompleted
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := repo.GetOrder(ctx, "o1")
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	assert.Empty(t, repo.Events())
}

func TestMemory_UpdateOrder_ConcurrentSingleWinner(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newTestOrder("o1", baseTime)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.UpdateOrder(ctx, "o1", func(o *domain.Order) ([]domain.Event, error) {
				if err := o.MarkCompleted(fmt.Sprintf("tx-%d", i), baseTime); err != nil {
					return nil, err
				}
				return []domain.Event{domain.NewOrderEvent(domain.EventOrderCompleted, o, "", baseTime)}, nil
			})
			if err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrNotPending)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, repo.Events(), 1)
}

func TestMemory_ListOrders_FiltersAndPages(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o := newTestOrder(fmt.Sprintf("o%d", i), baseTime.Add(time.Duration(i)*time.Hour))
		o.Amount = decimal.NewFromInt(int64(10000 * (i + 1)))
		if i%2 == 0 {
			o.ProductCategory = "electronics"
		}
		require.NoError(t, repo.CreateOrder(ctx, o))
	}
	other := newTestOrder("x", baseTime)
	other.BuyerRef = "buyer-2"
	require.NoError(t, repo.CreateOrder(ctx, other))

	orders, total, err := repo.ListOrders(ctx, domain.HistoryFilter{BuyerRef: "buyer-1", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, orders, 2)
	assert.Equal(t, "o4", orders[0].OrderID, "newest first")

	orders, total, err = repo.ListOrders(ctx, domain.HistoryFilter{BuyerRef: "buyer-1", Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, orders, 1)

	minA, maxA := decimal.NewFromInt(20000), decimal.NewFromInt(40000)
	orders, total, err = repo.ListOrders(ctx, domain.HistoryFilter{
		BuyerRef: "buyer-1", MinAmount: &minA, MaxAmount: &maxA, Category: "electronics",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "o2", orders[0].OrderID)

	from, to := baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)
	_, total, err = repo.ListOrders(ctx, domain.HistoryFilter{BuyerRef: "buyer-1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMemory_DueReceipts(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := baseTime.Add(10 * 24 * time.Hour)

	due := newTestOrder("due", baseTime)
	require.NoError(t, due.MarkCompleted("tx", baseTime))
	notDue := newTestOrder("fresh", baseTime)
	require.NoError(t, notDue.MarkCompleted("tx", now.Add(-time.Hour)))
	pending := newTestOrder("pending", baseTime)
	for _, o := range []*domain.Order{due, notDue, pending} {
		require.NoError(t, repo.CreateOrder(ctx, o))
	}

	found, err := repo.FindDueReceipts(ctx, now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "due", found[0].OrderID)

	n, err := repo.ConfirmDueReceipts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := repo.GetOrder(ctx, "due")
	assert.True(t, got.ReceivedSuccessfully)
	assert.Equal(t, now, *got.ReceivedConfirmedAt)

	n, err = repo.ConfirmDueReceipts(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "second batch is a no-op")

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventReceiptConfirmed, events[0].EventType)
}

func TestMemory_Outbox(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	o := newTestOrder("o1", baseTime)
	require.NoError(t, repo.CreateOrder(ctx, o,
		domain.NewOrderEvent(domain.EventOrderCompleted, o, "", baseTime),
		domain.NewOrderEvent(domain.EventOrderFailed, o, "", baseTime),
	))

	events, err := repo.GetUnprocessedEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderFailed, events[0].EventType)
}

func TestMemory_Reconciliation(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	e := &ReconciliationEntry{OrderID: "o1", ProductRef: "p1", BuyerRef: "b1", TargetState: ProductSold, LastError: "timeout"}
	require.NoError(t, repo.RecordReconciliation(ctx, e))
	assert.NotZero(t, e.ID)

	require.NoError(t, repo.FailReconciliationAttempt(ctx, e.ID, "still down"))
	open, err := repo.ListUnresolvedReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].Attempts)
	assert.Equal(t, "still down", open[0].LastError)

	require.NoError(t, repo.ResolveReconciliation(ctx, e.ID, baseTime))
	open, err = repo.ListUnresolvedReconciliations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventReconciliationRequired, events[0].EventType)
}
