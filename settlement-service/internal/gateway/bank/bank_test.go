package bank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/signature"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "SECRETKEYFORTESTS"

// 2024-03-05 08:30:15 UTC is 15:30:15 in GMT+7.
var testNow = time.Date(2024, 3, 5, 8, 30, 15, 0, time.UTC)

func newTestAdapter(apiURL string) *Adapter {
	return New(Config{
		PayURL:     "https://sandbox.bank.test/pay",
		APIURL:     apiURL,
		TmnCode:    "TMN01",
		HashSecret: testSecret,
		ReturnURL:  "https://shop.test/bank/return",
	}, gateway.NewClient(Name, time.Second, nil), clock.NewFake(testNow))
}

func TestCreatePaymentURL(t *testing.T) {
	a := newTestAdapter("")
	res, err := a.CreatePaymentURL(context.Background(), gateway.PaymentRequest{
		Amount:    decimal.NewFromInt(100000),
		OrderID:   "order-9",
		OrderInfo: "Pay order 9",
		BankCode:  "NCB",
		CallerIP:  "127.0.0.1",
	})
	require.NoError(t, err)

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "order-9", q.Get("vnp_TxnRef"))
	assert.Equal(t, "10000000", q.Get("vnp_Amount"))
	assert.Equal(t, "20240305153015", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20240305154515", q.Get("vnp_ExpireDate"))
	assert.Equal(t, "NCB", q.Get("vnp_BankCode"))
	assert.Equal(t, "vn", q.Get("vnp_Locale"))
	assert.True(t, strings.HasPrefix(res.URL, "https://sandbox.bank.test/pay?"))
	assert.Contains(t, res.URL, "vnp_OrderInfo=Pay+order+9")

	assert.True(t, a.VerifyInbound(q), "redirect url carries a valid hash")
}

func TestCreatePaymentURL_AutoOrderID(t *testing.T) {
	a := newTestAdapter("")
	req := gateway.PaymentRequest{Amount: decimal.NewFromInt(5000), CallerIP: "10.0.0.1"}

	first, err := a.CreatePaymentURL(context.Background(), req)
	require.NoError(t, err)
	second, err := a.CreatePaymentURL(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.OrderID, "20240305153015"), first.OrderID)
	assert.Len(t, first.OrderID, len(dateLayout)+autoOrderIDSuffix)
	assert.NotEqual(t, first.OrderID, second.OrderID, "same second must not collide")
	assert.Equal(t, first.OrderID, first.RequestID)
}

func TestCreatePaymentURL_Validation(t *testing.T) {
	a := newTestAdapter("")
	var vErr *domain.ValidationError

	_, err := a.CreatePaymentURL(context.Background(), gateway.PaymentRequest{Amount: decimal.NewFromInt(0), CallerIP: "1.1.1.1"})
	assert.True(t, errors.As(err, &vErr))

	_, err = a.CreatePaymentURL(context.Background(), gateway.PaymentRequest{Amount: decimal.RequireFromString("1.005"), CallerIP: "1.1.1.1"})
	assert.True(t, errors.As(err, &vErr))

	_, err = a.CreatePaymentURL(context.Background(), gateway.PaymentRequest{Amount: decimal.NewFromInt(10)})
	assert.True(t, errors.As(err, &vErr))
}

func inboundParams(a *Adapter) url.Values {
	p := url.Values{}
	p.Set("vnp_TmnCode", "TMN01")
	p.Set("vnp_TxnRef", "order-9")
	p.Set("vnp_Amount", "10000000")
	p.Set("vnp_ResponseCode", "00")
	p.Set("vnp_TransactionStatus", "00")
	p.Set("vnp_TransactionNo", "14226112")
	p.Set("vnp_OrderInfo", "Pay order 9")
	p.Set("vnp_PayDate", "20240305153100")
	a.SignInbound(p)
	p.Set(signature.BankHashTypeKey, "HmacSHA512")
	return p
}

func TestVerifyInbound(t *testing.T) {
	a := newTestAdapter("")
	p := inboundParams(a)
	assert.True(t, a.VerifyInbound(p))

	upper := inboundParams(a)
	upper.Set(signature.BankHashKey, strings.ToUpper(upper.Get(signature.BankHashKey)))
	assert.True(t, a.VerifyInbound(upper))

	p.Set("vnp_Amount", "10000100")
	assert.False(t, a.VerifyInbound(p), "tampered amount")

	missing := inboundParams(a)
	missing.Del(signature.BankHashKey)
	assert.False(t, a.VerifyInbound(missing))

	other := New(Config{HashSecret: "other"}, nil, clock.Real{})
	assert.False(t, other.VerifyInbound(inboundParams(a)))
}

func TestParseInbound(t *testing.T) {
	n, err := ParseInbound(inboundParams(newTestAdapter("")))
	require.NoError(t, err)

	assert.Equal(t, "order-9", n.TxnRef)
	assert.True(t, n.Amount.Equal(decimal.NewFromInt(100000)))
	assert.True(t, n.Succeeded())

	n.TransactionStatus = "02"
	assert.False(t, n.Succeeded())

	n.TransactionStatus = ""
	assert.True(t, n.Succeeded())

	n.ResponseCode = "24"
	assert.False(t, n.Succeeded())
}

func TestParseInbound_OneMinorUnit(t *testing.T) {
	p := url.Values{"vnp_TxnRef": {"o"}, "vnp_Amount": {"10000001"}}
	n, err := ParseInbound(p)
	require.NoError(t, err)
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("100000.01")))
}

func TestParseInbound_Invalid(t *testing.T) {
	_, err := ParseInbound(url.Values{"vnp_Amount": {"abc"}})
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Fields, 2)
}

func TestQueryTransactionStatus_PipeSignature(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"vnp_ResponseCode":"00","vnp_TransactionStatus":"00","vnp_TxnRef":"order-9"}`))
	}))
	defer srv.Close()

	raw, err := newTestAdapter(srv.URL).QueryTransactionStatus(context.Background(), "order-9", "20240305153015", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "00", raw["vnp_ResponseCode"])

	assert.Equal(t, "querydr", got.Command)
	assert.Len(t, got.RequestID, 32)
	data := strings.Join([]string{
		got.RequestID, "2.1.0", "querydr", "TMN01", "order-9", "20240305153015",
		"20240305153015", "127.0.0.1", got.OrderInfo,
	}, "|")
	assert.True(t, signature.Verify(signature.SHA512, testSecret, data, got.SecureHash))
}

func TestRefundTransaction_PipeSignature(t *testing.T) {
	var got refundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"vnp_ResponseCode":"00"}`))
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).RefundTransaction(context.Background(), RefundRequest{
		OrderID:         "order-9",
		Amount:          decimal.NewFromInt(100000),
		TransactionNo:   "14226112",
		TransactionDate: "20240305153015",
		CreatedBy:       "admin",
		CallerIP:        "127.0.0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, RefundFull, got.TransactionType)
	assert.Equal(t, "10000000", got.Amount)
	data := signature.Pipe(got.RequestID, "2.1.0", "refund", "TMN01", "02", "order-9", "10000000",
		"14226112", "20240305153015", "admin", "20240305153015", "127.0.0.1", got.OrderInfo)
	assert.True(t, signature.Verify(signature.SHA512, testSecret, data, got.SecureHash))
}

func TestQueryTransactionStatus_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1,2`))
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).QueryTransactionStatus(context.Background(), "order-9", "20240305153015", "127.0.0.1")
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.ErrorIs(t, err, gateway.ErrMalformedResponse)
}
