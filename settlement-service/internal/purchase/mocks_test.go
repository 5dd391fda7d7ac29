package purchase

import (
	"context"
	"errors"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
)

type MockGateway struct {
	Requests []gateway.PaymentRequest
	URL      string
	Err      error
}

func (m *MockGateway) CreatePaymentURL(_ context.Context, req gateway.PaymentRequest) (*gateway.PaymentURL, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &gateway.PaymentURL{URL: m.URL + "?ref=" + req.OrderID, OrderID: req.OrderID}, nil
}

var errGatewayDown = errors.New("gateway down")

// HookedStore runs AfterGet once, between reading an order and handing it
// back, to interleave a concurrent transition with a status read.
type HookedStore struct {
	*repository.MemoryRepository
	AfterGet func()
}

func (s *HookedStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.MemoryRepository.GetOrder(ctx, orderID)
	if hook := s.AfterGet; hook != nil {
		s.AfterGet = nil
		hook()
	}
	return order, err
}

// CtxStore fails reads whose context is already done, like a real driver.
type CtxStore struct {
	*repository.MemoryRepository
}

func (s *CtxStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryRepository.GetOrder(ctx, orderID)
}
