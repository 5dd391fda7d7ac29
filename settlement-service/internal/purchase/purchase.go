// Package purchase implements the buyer-facing payment and purchase
// operations on top of the ledger.
package purchase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fjod/studenthub/settlement-service/internal/cache"
	"github.com/fjod/studenthub/settlement-service/internal/catalog"
	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/ledger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type Store interface {
	CreateOrder(ctx context.Context, order *domain.Order, events ...domain.Event) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Order, int, error)
}

type Lifecycle interface {
	Complete(ctx context.Context, orderID, transactionID string) (*domain.Order, ledger.Outcome, error)
	Cancel(ctx context.Context, orderID, actor, reason string) (*domain.Order, error)
	ConfirmReceipt(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error)
}

type PaymentGateway interface {
	CreatePaymentURL(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentURL, error)
}

type Service struct {
	store          Store
	ledger         Lifecycle
	products       catalog.ProductStore
	gateways       map[domain.PaymentMethod]PaymentGateway
	cache          cache.StatusCache
	clock          clock.Clock
	commissionRate decimal.Decimal
	log            *slog.Logger

	sfg        singleflight.Group
	cacheWrite sync.WaitGroup
}

type Config struct {
	CommissionRate decimal.Decimal
	Wallet         PaymentGateway
	Bank           PaymentGateway
}

func NewService(cfg Config, store Store, l Lifecycle, products catalog.ProductStore, c cache.StatusCache, clk clock.Clock, log *slog.Logger) *Service {
	gateways := make(map[domain.PaymentMethod]PaymentGateway)
	if cfg.Wallet != nil {
		gateways[domain.PaymentMethodWallet] = cfg.Wallet
	}
	if cfg.Bank != nil {
		gateways[domain.PaymentMethodBank] = cfg.Bank
	}
	return &Service{
		store:          store,
		ledger:         l,
		products:       products,
		gateways:       gateways,
		cache:          c,
		clock:          clk,
		commissionRate: cfg.CommissionRate,
		log:            log,
	}
}

// WaitCacheWrites blocks until background cache fills finish.
func (s *Service) WaitCacheWrites() {
	s.cacheWrite.Wait()
}
