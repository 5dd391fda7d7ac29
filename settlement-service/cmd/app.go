package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fjod/studenthub/settlement-service/internal/cache"
	"github.com/fjod/studenthub/settlement-service/internal/catalog"
	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/config"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/gateway/bank"
	"github.com/fjod/studenthub/settlement-service/internal/gateway/wallet"
	"github.com/fjod/studenthub/settlement-service/internal/ledger"
	"github.com/fjod/studenthub/settlement-service/internal/metrics"
	"github.com/fjod/studenthub/settlement-service/internal/publisher"
	"github.com/fjod/studenthub/settlement-service/internal/purchase"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
	"github.com/fjod/studenthub/settlement-service/internal/scheduler"
	"github.com/fjod/studenthub/settlement-service/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// app owns every long-lived dependency of the service.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	repo        *repository.PostgresRepository
	mongo       *mongo.Database
	redisClient *redis.Client

	ledger    *ledger.Service
	webhooks  *webhook.Processor
	purchases *purchase.Service
	scheduler *scheduler.Scheduler
	poller    *publisher.OutboxPoller
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.NewDefault()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	creds := credentials(cfg)
	a.repo, err = repository.NewPostgresRepository(creds)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err = a.repo.RunMigrations(creds); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations completed")

	a.mongo, err = catalog.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
	if err != nil {
		return nil, err
	}
	products := catalog.NewMongoStore(a.mongo, cfg.Mongo.Collection)
	if err = products.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create catalog indexes: %w", err)
	}

	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = a.redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	statusCache := cache.NewRedisCache(a.redisClient, cfg.Redis.TTL)

	clk := clock.Real{}
	walletAdapter := wallet.New(wallet.Config{
		Endpoint:    cfg.Wallet.Endpoint,
		PartnerCode: cfg.Wallet.PartnerCode,
		AccessKey:   cfg.Wallet.AccessKey,
		SecretKey:   cfg.Wallet.SecretKey,
		IPNURL:      cfg.Wallet.IPNURL,
		RedirectURL: cfg.Wallet.RedirectURL,
		RequestType: cfg.Wallet.RequestType,
	}, gateway.NewClient(wallet.Name, cfg.GatewayTimeout, log), clk)
	bankAdapter := bank.New(bank.Config{
		PayURL:     cfg.Bank.PayURL,
		APIURL:     cfg.Bank.APIURL,
		TmnCode:    cfg.Bank.TmnCode,
		HashSecret: cfg.Bank.HashSecret,
		ReturnURL:  cfg.Bank.ReturnURL,
		Version:    cfg.Bank.Version,
	}, gateway.NewClient(bank.Name, cfg.GatewayTimeout, log), clk)

	a.ledger = ledger.NewService(a.repo, products, statusCache, clk, log.With("component", "ledger"), a.metrics)
	a.webhooks = webhook.NewProcessor(a.repo, a.ledger, walletAdapter, bankAdapter, log.With("component", "webhook"), a.metrics)
	a.purchases = purchase.NewService(purchase.Config{
		CommissionRate: cfg.CommissionRate,
		Wallet:         walletAdapter,
		Bank:           bankAdapter,
	}, a.repo, a.ledger, products, statusCache, clk, log.With("component", "purchase"))
	a.scheduler = scheduler.New(a.repo, statusCache, clk, cfg.Schedule.ReceiptInterval, log.With("component", "scheduler"), a.metrics)
	a.poller = publisher.NewOutboxPoller(publisher.Config{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		EventTick:    cfg.Schedule.OutboxInterval,
		RecoveryTick: cfg.Schedule.RecoveryInterval,
	}, a.repo, a.ledger, log.With("component", "publisher"), a.metrics)

	return a, nil
}

func (a *app) close() {
	if a.poller != nil {
		if err := a.poller.Close(); err != nil {
			a.log.Warn("failed to close kafka writer", "error", err)
		}
	}
	if a.purchases != nil {
		a.purchases.WaitCacheWrites()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.mongo != nil {
		if err := a.mongo.Client().Disconnect(context.Background()); err != nil {
			a.log.Warn("failed to disconnect from mongodb", "error", err)
		}
	}
	if a.repo != nil {
		a.repo.Close()
	}
}
