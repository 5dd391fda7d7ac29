package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
)

// MemoryRepository implements Repository in process memory. One mutex guards
// every table, which makes each UpdateOrder an atomic conditional update.
type MemoryRepository struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	outbox    []*OutboxEvent
	processed map[int64]bool
	recon     []*ReconciliationEntry
	nextID    int64
	now       func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:    make(map[string]*domain.Order),
		processed: make(map[int64]bool),
		now:       time.Now,
	}
}

func (m *MemoryRepository) RunMigrations(*Credentials) error { return nil }

func (m *MemoryRepository) Close() error { return nil }

// appendEvents must be called with mu held.
func (m *MemoryRepository) appendEvents(events []domain.Event) {
	for _, ev := range events {
		m.nextID++
		m.outbox = append(m.outbox, &OutboxEvent{
			ID:          m.nextID,
			AggregateID: ev.AggregateID,
			EventType:   ev.Type,
			Payload:     append([]byte(nil), ev.Payload...),
			CreatedAt:   m.now(),
		})
	}
}

func (m *MemoryRepository) CreateOrder(_ context.Context, order *domain.Order, events ...domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.OrderID]; exists {
		return domain.ErrDuplicateOrder
	}
	order.RecomputeCommission()
	m.orders[order.OrderID] = order.Clone()
	m.appendEvents(events)
	return nil
}

func (m *MemoryRepository) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryRepository) ListOrders(_ context.Context, filter domain.HistoryFilter) ([]*domain.Order, int, error) {
	filter.Normalize()

	m.mu.Lock()
	var matched []*domain.Order
	for _, o := range m.orders {
		if filter.Matches(o) {
			matched = append(matched, o.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderID < matched[j].OrderID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []*domain.Order{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryRepository) UpdateOrder(_ context.Context, orderID string, mutate MutateFunc) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	working := stored.Clone()
	events, err := mutate(working)
	if err != nil {
		return nil, err
	}
	working.RecomputeCommission()
	m.orders[orderID] = working
	m.appendEvents(events)
	return working.Clone(), nil
}

func (m *MemoryRepository) FindDueReceipts(_ context.Context, now time.Time) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Order
	for _, o := range m.orders {
		if o.ReceiptDue(now) {
			due = append(due, o.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ReceivedSuccessfullyDeadline.Before(*due[j].ReceivedSuccessfullyDeadline)
	})
	return due, nil
}

func (m *MemoryRepository) ConfirmDueReceipts(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, o := range m.orders {
		if !o.ReceiptDue(now) {
			continue
		}
		at := now
		o.ReceivedSuccessfully = true
		o.ReceivedConfirmedAt = &at
		o.UpdatedAt = now
		m.appendEvents([]domain.Event{{
			Type:        domain.EventReceiptConfirmed,
			AggregateID: o.OrderID,
			Payload:     receiptEventPayload(o, now),
		}})
		n++
	}
	return n, nil
}

func (m *MemoryRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*OutboxEvent
	for _, ev := range m.outbox {
		if m.processed[ev.ID] {
			continue
		}
		c := *ev
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

// Events returns every outbox event recorded so far, processed or not.
func (m *MemoryRepository) Events() []OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]OutboxEvent, 0, len(m.outbox))
	for _, ev := range m.outbox {
		out = append(out, *ev)
	}
	return out
}

func (m *MemoryRepository) RecordReconciliation(_ context.Context, e *ReconciliationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	e.ID = m.nextID
	e.Attempts = 1
	e.CreatedAt = m.now()
	c := *e
	m.recon = append(m.recon, &c)
	m.appendEvents([]domain.Event{reconciliationEvent(e)})
	return nil
}

func (m *MemoryRepository) ListUnresolvedReconciliations(_ context.Context, limit int) ([]*ReconciliationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ReconciliationEntry
	for _, e := range m.recon {
		if e.ResolvedAt != nil {
			continue
		}
		c := *e
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) ResolveReconciliation(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.recon {
		if e.ID == id && e.ResolvedAt == nil {
			t := at
			e.ResolvedAt = &t
		}
	}
	return nil
}

func (m *MemoryRepository) FailReconciliationAttempt(_ context.Context, id int64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.recon {
		if e.ID == id {
			e.Attempts++
			e.LastError = lastErr
		}
	}
	return nil
}
