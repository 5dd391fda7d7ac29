package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/metrics"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "settlement-events"
	batchSize    = 100
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reconciler retries product updates that failed after an order change.
type Reconciler interface {
	ReconcileProducts(ctx context.Context) (int, error)
}

type Config struct {
	Brokers      []string
	Topic        string
	EventTick    time.Duration
	RecoveryTick time.Duration
	Timeout      time.Duration
}

type OutboxPoller struct {
	timeout      time.Duration
	eventTick    time.Duration
	recoveryTick time.Duration
	repo         repository.OutboxRepository
	reconciler   Reconciler
	writer       MessageWriter
	log          *slog.Logger
	metrics      *metrics.Metrics
}

func NewOutboxPoller(cfg Config, repo repository.OutboxRepository, reconciler Reconciler, log *slog.Logger, m *metrics.Metrics) *OutboxPoller {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newOutboxPoller(cfg, repo, reconciler, w, log, m)
}

func newOutboxPoller(cfg Config, repo repository.OutboxRepository, reconciler Reconciler, w MessageWriter, log *slog.Logger, m *metrics.Metrics) *OutboxPoller {
	if cfg.EventTick <= 0 {
		cfg.EventTick = time.Second
	}
	if cfg.RecoveryTick <= 0 {
		cfg.RecoveryTick = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &OutboxPoller{
		timeout:      cfg.Timeout,
		eventTick:    cfg.EventTick,
		recoveryTick: cfg.RecoveryTick,
		repo:         repo,
		reconciler:   reconciler,
		writer:       w,
		log:          log.With("component", "outbox_poller"),
		metrics:      m,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.reconcileProducts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.Error("failed to fetch events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.metrics.EventsPublished.WithLabelValues("failed").Inc()
			p.log.Error("failed to publish event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			// keep per-aggregate order: stop here and retry the batch next tick
			return
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
			return
		}
		p.metrics.EventsPublished.WithLabelValues("ok").Inc()
	}
}

func (p *OutboxPoller) reconcileProducts(ctx context.Context) {
	if p.reconciler == nil {
		return
	}
	resolved, err := p.reconciler.ReconcileProducts(ctx)
	if err != nil {
		p.log.Error("product reconciliation pass failed", "error", err)
		return
	}
	if resolved > 0 {
		p.log.Info("product reconciliation pass finished", "resolved", resolved)
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order_id keeps an order's events on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}
