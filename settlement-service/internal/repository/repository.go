package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// MutateFunc changes an order under the store's row lock. Returning an error
// aborts the write. The events are stored atomically with the change.
type MutateFunc func(o *domain.Order) ([]domain.Event, error)

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Product states a reconciliation entry may ask for.
const (
	ProductSold      = "sold"
	ProductAvailable = "available"
)

// ReconciliationEntry records a product update that failed after its order
// transition was committed.
type ReconciliationEntry struct {
	ID          int64
	OrderID     string
	ProductRef  string
	BuyerRef    string
	TargetState string
	LastError   string
	Attempts    int
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order, events ...domain.Event) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Order, int, error)

	// UpdateOrder loads the order, applies mutate and saves it as one atomic
	// conditional update. Commission is recomputed on every save.
	UpdateOrder(ctx context.Context, orderID string, mutate MutateFunc) (*domain.Order, error)

	FindDueReceipts(ctx context.Context, now time.Time) ([]*domain.Order, error)
	// ConfirmDueReceipts flips every due order in a single statement and
	// returns how many rows it changed.
	ConfirmDueReceipts(ctx context.Context, now time.Time) (int64, error)
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type ReconciliationRepository interface {
	// RecordReconciliation stores the entry and an alert event together.
	RecordReconciliation(ctx context.Context, entry *ReconciliationEntry) error
	ListUnresolvedReconciliations(ctx context.Context, limit int) ([]*ReconciliationEntry, error)
	ResolveReconciliation(ctx context.Context, id int64, at time.Time) error
	FailReconciliationAttempt(ctx context.Context, id int64, lastErr string) error
}

type Repository interface {
	OrderRepository
	OutboxRepository
	ReconciliationRepository
	RunMigrations(*Credentials) error
	Close() error
}

func reconciliationEvent(e *ReconciliationEntry) domain.Event {
	payload, _ := json.Marshal(map[string]any{
		"order_id":     e.OrderID,
		"product_ref":  e.ProductRef,
		"target_state": e.TargetState,
		"error":        e.LastError,
	})
	return domain.Event{Type: domain.EventReconciliationRequired, AggregateID: e.OrderID, Payload: payload}
}

func receiptEventPayload(o *domain.Order, at time.Time) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"order_id":     o.OrderID,
		"buyer_ref":    o.BuyerRef,
		"seller_ref":   o.SellerRef,
		"confirmed_at": at,
		"source":       "scheduler",
	})
	return payload
}
