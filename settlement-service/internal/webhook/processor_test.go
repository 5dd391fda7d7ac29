package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fjod/studenthub/pkg/logger"
	"github.com/fjod/studenthub/settlement-service/internal/catalog"
	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/gateway/bank"
	"github.com/fjod/studenthub/settlement-service/internal/gateway/wallet"
	"github.com/fjod/studenthub/settlement-service/internal/ledger"
	"github.com/fjod/studenthub/settlement-service/internal/metrics"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

type fixture struct {
	proc     *Processor
	repo     *repository.MemoryRepository
	products *catalog.MemoryStore
	wallet   *wallet.Adapter
	bank     *bank.Adapter
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(baseTime)
	f := &fixture{
		repo: repository.NewMemoryRepository(),
		products: catalog.NewMemoryStore(
			&catalog.Product{ID: "product-1", SellerRef: "seller-1", Status: catalog.StatusAvailable},
			&catalog.Product{ID: "product-2", SellerRef: "seller-1", Status: catalog.StatusAvailable},
		),
		wallet: wallet.New(wallet.Config{
			PartnerCode: "MOMO",
			AccessKey:   "access",
			SecretKey:   "wallet-secret",
		}, nil, clk),
		bank: bank.New(bank.Config{
			TmnCode:    "TMN01",
			HashSecret: "bank-secret",
		}, nil, clk),
		metrics: metrics.Discard(),
	}
	l := ledger.NewService(f.repo, f.products, nil, clk, logger.Discard(), f.metrics)
	f.proc = NewProcessor(f.repo, l, f.wallet, f.bank, logger.Discard(), f.metrics)

	f.seed(t, "order-1", "product-1", domain.PaymentMethodWallet)
	f.seed(t, "order-2", "product-2", domain.PaymentMethodBank)
	return f
}

func (f *fixture) seed(t *testing.T, id, product string, method domain.PaymentMethod) {
	t.Helper()
	require.NoError(t, f.repo.CreateOrder(context.Background(), &domain.Order{
		OrderID:             id,
		Amount:              decimal.NewFromInt(150000),
		ProductRef:          product,
		BuyerRef:            "buyer-1",
		SellerRef:           "seller-1",
		PaymentMethod:       method,
		PaymentStatus:       domain.PaymentStatusPending,
		AdminCommissionRate: decimal.RequireFromString("0.1"),
		CreatedAt:           baseTime,
		UpdatedAt:           baseTime,
	}))
}

func (f *fixture) walletBody(t *testing.T, orderID, amount, resultCode string) []byte {
	t.Helper()
	n := &wallet.Notification{
		PartnerCode:  "MOMO",
		OrderID:      orderID,
		RequestID:    "req-" + orderID,
		Amount:       gateway.FlexString(amount),
		OrderInfo:    "pay for " + orderID,
		OrderType:    "momo_wallet",
		TransID:      "2820312345",
		ResultCode:   gateway.FlexString(resultCode),
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: "1717401600000",
	}
	f.wallet.SignNotification(n)
	b, err := json.Marshal(n)
	require.NoError(t, err)
	return b
}

func (f *fixture) bankParams(orderID, scaledAmount, responseCode string) url.Values {
	params := url.Values{}
	params.Set("vnp_TmnCode", "TMN01")
	params.Set("vnp_TxnRef", orderID)
	params.Set("vnp_Amount", scaledAmount)
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", responseCode)
	params.Set("vnp_TransactionNo", "14226112")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_PayDate", "20240603150000")
	params.Set("vnp_OrderInfo", "Thanh toan don hang "+orderID)
	f.bank.SignInbound(params)
	return params
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := f.repo.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestBank_SuccessThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := f.bankParams("order-2", "15000000", "00")

	ack := f.proc.Bank(ctx, params)
	assert.Equal(t, BankAck{Code: BankCodeSuccess, Message: "Confirm Success"}, ack)

	o := f.order(t, "order-2")
	assert.Equal(t, domain.PaymentStatusCompleted, o.PaymentStatus)
	assert.Equal(t, "14226112", o.TransactionID)
	assert.True(t, o.AdminCommission.Equal(decimal.NewFromInt(15000)))

	ack = f.proc.Bank(ctx, params)
	assert.Equal(t, BankCodeAlreadyProcessed, ack.Code)
	assert.Equal(t, 1, f.products.Calls(string(catalog.StatusSold)))
	assert.Equal(t, o.UpdatedAt, f.order(t, "order-2").UpdatedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IPNOutcomes.WithLabelValues(bank.Name, BankCodeAlreadyProcessed)))
}

func TestBank_FailureResponse(t *testing.T) {
	f := newFixture(t)

	ack := f.proc.Bank(context.Background(), f.bankParams("order-2", "15000000", "24"))

	assert.Equal(t, BankCodeSuccess, ack.Code)
	o := f.order(t, "order-2")
	assert.Equal(t, domain.PaymentStatusFailed, o.PaymentStatus)
	assert.Equal(t, "24", o.ErrorCode)
	assert.Empty(t, o.TransactionID)
	assert.Nil(t, o.ReceivedSuccessfullyDeadline)
}

func TestBank_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		params   func(f *fixture) url.Values
		wantCode string
	}{
		{
			name:     "off by one minor unit",
			params:   func(f *fixture) url.Values { return f.bankParams("order-2", "15000001", "00") },
			wantCode: BankCodeAmountMismatch,
		},
		{
			name: "tampered amount",
			params: func(f *fixture) url.Values {
				p := f.bankParams("order-2", "15000000", "00")
				p.Set("vnp_Amount", "100")
				return p
			},
			wantCode: BankCodeChecksumFailed,
		},
		{
			name: "missing hash",
			params: func(f *fixture) url.Values {
				p := f.bankParams("order-2", "15000000", "00")
				p.Del("vnp_SecureHash")
				return p
			},
			wantCode: BankCodeChecksumFailed,
		},
		{
			name:     "unknown order",
			params:   func(f *fixture) url.Values { return f.bankParams("order-404", "15000000", "00") },
			wantCode: BankCodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			ack := f.proc.Bank(context.Background(), tt.params(f))

			assert.Equal(t, tt.wantCode, ack.Code)
			if o, err := f.repo.GetOrder(context.Background(), "order-2"); err == nil {
				assert.Equal(t, domain.PaymentStatusPending, o.PaymentStatus)
			}
		})
	}
}

func TestWallet_SuccessThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := f.walletBody(t, "order-1", "150000", "0")

	ack := f.proc.Wallet(ctx, body)
	assert.Equal(t, http.StatusOK, ack.HTTPStatus)
	assert.Equal(t, WalletCodeSuccess, ack.ResultCode)

	o := f.order(t, "order-1")
	assert.Equal(t, domain.PaymentStatusCompleted, o.PaymentStatus)
	assert.Equal(t, "2820312345", o.TransactionID)
	require.NotNil(t, o.ReceivedSuccessfullyDeadline)
	assert.Equal(t, baseTime.Add(7*24*time.Hour), *o.ReceivedSuccessfullyDeadline)

	ack = f.proc.Wallet(ctx, body)
	assert.Equal(t, http.StatusOK, ack.HTTPStatus)
	assert.Equal(t, WalletCodeAlreadyProcessed, ack.ResultCode)
	assert.Equal(t, 1, f.products.Calls(string(catalog.StatusSold)))
}

func TestWallet_NumericJSONFields(t *testing.T) {
	f := newFixture(t)

	raw := map[string]any{}
	require.NoError(t, json.Unmarshal(f.walletBody(t, "order-1", "150000", "0"), &raw))
	raw["amount"] = 150000
	raw["resultCode"] = 0
	body, err := json.Marshal(raw)
	require.NoError(t, err)

	ack := f.proc.Wallet(context.Background(), body)
	assert.Equal(t, WalletCodeSuccess, ack.ResultCode)
}

func TestWallet_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       func(t *testing.T, f *fixture) []byte
		wantCode   int
		wantStatus int
	}{
		{
			name:       "off by one unit",
			body:       func(t *testing.T, f *fixture) []byte { return f.walletBody(t, "order-1", "150001", "0") },
			wantCode:   WalletCodeAmountMismatch,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "forged signature",
			body: func(t *testing.T, f *fixture) []byte {
				raw := map[string]any{}
				require.NoError(t, json.Unmarshal(f.walletBody(t, "order-1", "150000", "0"), &raw))
				raw["signature"] = strings.Repeat("0", 64)
				b, _ := json.Marshal(raw)
				return b
			},
			wantCode:   WalletCodeBadSignature,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown order",
			body:       func(t *testing.T, f *fixture) []byte { return f.walletBody(t, "order-404", "150000", "0") },
			wantCode:   WalletCodeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed json",
			body:       func(t *testing.T, f *fixture) []byte { return []byte(`{"orderId":`) },
			wantCode:   WalletCodeUnknown,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			ack := f.proc.Wallet(context.Background(), tt.body(t, f))

			assert.Equal(t, tt.wantCode, ack.ResultCode)
			assert.Equal(t, tt.wantStatus, ack.HTTPStatus)
			assert.Equal(t, domain.PaymentStatusPending, f.order(t, "order-1").PaymentStatus)
		})
	}
}

func TestWalletReturn_UsesQueryFields(t *testing.T) {
	f := newFixture(t)
	n := &wallet.Notification{}
	require.NoError(t, json.Unmarshal(f.walletBody(t, "order-1", "150000", "1006"), n))

	q := url.Values{}
	q.Set("partnerCode", n.PartnerCode)
	q.Set("orderId", n.OrderID)
	q.Set("requestId", n.RequestID)
	q.Set("amount", n.Amount.String())
	q.Set("orderInfo", n.OrderInfo)
	q.Set("orderType", n.OrderType)
	q.Set("transId", n.TransID.String())
	q.Set("resultCode", n.ResultCode.String())
	q.Set("message", n.Message)
	q.Set("payType", n.PayType)
	q.Set("responseTime", n.ResponseTime.String())
	q.Set("extraData", n.ExtraData)
	q.Set("signature", n.Signature)

	ack := f.proc.WalletReturn(context.Background(), q)

	assert.Equal(t, WalletCodeSuccess, ack.ResultCode)
	o := f.order(t, "order-1")
	assert.Equal(t, domain.PaymentStatusFailed, o.PaymentStatus)
	assert.Equal(t, "1006", o.ErrorCode)
}

func TestWallet_OutOfOrderCallbacksFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.proc.Wallet(ctx, f.walletBody(t, "order-1", "150000", "0"))
	second := f.proc.Wallet(ctx, f.walletBody(t, "order-1", "150000", "1"))

	assert.Equal(t, WalletCodeSuccess, first.ResultCode)
	assert.Equal(t, WalletCodeAlreadyProcessed, second.ResultCode)
	assert.Equal(t, domain.PaymentStatusCompleted, f.order(t, "order-1").PaymentStatus)

	g := newFixture(t)
	first = g.proc.Wallet(ctx, g.walletBody(t, "order-1", "150000", "1"))
	second = g.proc.Wallet(ctx, g.walletBody(t, "order-1", "150000", "0"))

	assert.Equal(t, WalletCodeSuccess, first.ResultCode)
	assert.Equal(t, WalletCodeAlreadyProcessed, second.ResultCode)
	assert.Equal(t, domain.PaymentStatusFailed, g.order(t, "order-1").PaymentStatus)
	assert.Equal(t, 0, g.products.Calls(string(catalog.StatusSold)))
}

type panickingReader struct{}

func (panickingReader) GetOrder(context.Context, string) (*domain.Order, error) {
	panic("boom")
}

func TestPanicsMapToUnknown(t *testing.T) {
	f := newFixture(t)
	proc := NewProcessor(panickingReader{}, nil, f.wallet, f.bank, logger.Discard(), nil)

	bankAck := proc.Bank(context.Background(), f.bankParams("order-2", "15000000", "00"))
	assert.Equal(t, BankCodeUnknown, bankAck.Code)

	walletAck := proc.Wallet(context.Background(), f.walletBody(t, "order-1", "150000", "0"))
	assert.Equal(t, WalletCodeUnknown, walletAck.ResultCode)
	assert.Equal(t, http.StatusInternalServerError, walletAck.HTTPStatus)
}
