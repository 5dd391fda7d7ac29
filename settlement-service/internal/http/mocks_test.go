package http

import (
	"context"
	"net/url"

	"github.com/fjod/studenthub/settlement-service/internal/cache"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/purchase"
	"github.com/fjod/studenthub/settlement-service/internal/webhook"
)

type PurchaseServiceMock struct {
	order   *domain.Order
	payURL  string
	status  *cache.PaymentStatus
	page    *domain.Page
	err     error
	created purchase.CreatePaymentRequest
	filter  domain.HistoryFilter
	reason  string
	address string
}

func (m *PurchaseServiceMock) CreatePayment(_ context.Context, req purchase.CreatePaymentRequest) (*purchase.CreatePaymentResult, error) {
	m.created = req
	if m.err != nil {
		return nil, m.err
	}
	return &purchase.CreatePaymentResult{Order: m.order, PayURL: m.payURL}, nil
}

func (m *PurchaseServiceMock) GetPaymentStatus(context.Context, string, string) (*cache.PaymentStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.status, nil
}

func (m *PurchaseServiceMock) ListHistory(_ context.Context, _ string, filter domain.HistoryFilter) (*domain.Page, error) {
	m.filter = filter
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *PurchaseServiceMock) GetDetails(context.Context, string, string) (*domain.Order, error) {
	return m.order, m.err
}

func (m *PurchaseServiceMock) Cancel(_ context.Context, _, _, reason string) (*domain.Order, error) {
	m.reason = reason
	return m.order, m.err
}

func (m *PurchaseServiceMock) UpdateShippingAddress(_ context.Context, _, _, address string) (*domain.Order, error) {
	m.address = address
	return m.order, m.err
}

func (m *PurchaseServiceMock) ConfirmReceipt(context.Context, string, string) (*domain.Order, error) {
	return m.order, m.err
}

type CallbackProcessorMock struct {
	walletAck webhook.WalletAck
	bankAck   webhook.BankAck
	body      []byte
	query     url.Values
}

func (m *CallbackProcessorMock) Wallet(_ context.Context, body []byte) webhook.WalletAck {
	m.body = body
	return m.walletAck
}

func (m *CallbackProcessorMock) WalletReturn(_ context.Context, q url.Values) webhook.WalletAck {
	m.query = q
	return m.walletAck
}

func (m *CallbackProcessorMock) Bank(_ context.Context, q url.Values) webhook.BankAck {
	m.query = q
	return m.bankAck
}
