// Package bank implements the VNPay-style bank gateway: signed redirect URLs,
// return/IPN verification and the querydr/refund merchant API.
package bank

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/signature"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Name = "bank"

	// dateLayout is yyyyMMddHHmmss.
	dateLayout = "20060102150405"

	// autoOrderIDSuffix random hex characters follow the timestamp in a
	// generated vnp_TxnRef.
	autoOrderIDSuffix = 8

	paymentTTL = 15 * time.Minute

	ResponseSuccess = "00"
)

var (
	gmt7 = time.FixedZone("GMT+7", 7*60*60)

	// amountScale undoes the gateway's minor-unit scaling.
	amountScale = decimal.NewFromInt(100)
)

type Config struct {
	PayURL     string
	APIURL     string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Version    string
}

type Adapter struct {
	cfg    Config
	client *gateway.Client
	clock  clock.Clock
}

func New(cfg Config, client *gateway.Client, clk clock.Clock) *Adapter {
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	return &Adapter{cfg: cfg, client: client, clock: clk}
}

// CreatePaymentURL builds the signed redirect to the bank's payment page. No
// network call is made.
func (a *Adapter) CreatePaymentURL(_ context.Context, req gateway.PaymentRequest) (*gateway.PaymentURL, error) {
	scaled := req.Amount.Mul(amountScale)
	if !req.Amount.IsPositive() || !scaled.IsInteger() {
		return nil, (&domain.ValidationError{}).Add("amount", "must be positive with at most two decimals")
	}
	if req.CallerIP == "" {
		return nil, (&domain.ValidationError{}).Add("ip", "caller ip is required")
	}

	now := a.clock.Now().In(gmt7)
	orderID := req.OrderID
	if orderID == "" {
		orderID = now.Format(dateLayout) + newRequestID()[:autoOrderIDSuffix]
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + orderID
	}
	locale := req.Locale
	if locale == "" {
		locale = "vn"
	}
	returnURL := a.cfg.ReturnURL
	if req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}

	params := url.Values{}
	params.Set("vnp_Version", a.cfg.Version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", a.cfg.TmnCode)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", orderID)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Amount", scaled.StringFixed(0))
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", req.CallerIP)
	params.Set("vnp_CreateDate", now.Format(dateLayout))
	params.Set("vnp_ExpireDate", now.Add(paymentTTL).Format(dateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	canonical := signature.Sorted(params)
	hash := signature.Sign(signature.SHA512, a.cfg.HashSecret, canonical)

	return &gateway.PaymentURL{
		URL:       a.cfg.PayURL + "?" + canonical + "&" + signature.BankHashKey + "=" + hash,
		OrderID:   orderID,
		RequestID: orderID,
	}, nil
}

// VerifyInbound checks vnp_SecureHash on a return or IPN request.
func (a *Adapter) VerifyInbound(params url.Values) bool {
	presented := params.Get(signature.BankHashKey)
	if presented == "" {
		return false
	}
	return signature.Verify(signature.SHA512, a.cfg.HashSecret, signature.Sorted(params), presented)
}

// SignInbound adds the hash the gateway would have sent. Used to simulate
// callbacks.
func (a *Adapter) SignInbound(params url.Values) {
	params.Del(signature.BankHashKey)
	params.Del(signature.BankHashTypeKey)
	params.Set(signature.BankHashKey, signature.Sign(signature.SHA512, a.cfg.HashSecret, signature.Sorted(params)))
}

// Notification is the business content of a return or IPN request.
type Notification struct {
	TxnRef            string
	Amount            decimal.Decimal
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
	OrderInfo         string
}

// ParseInbound extracts the notification. Amount is returned unscaled.
func ParseInbound(params url.Values) (*Notification, error) {
	verr := &domain.ValidationError{}
	ref := params.Get("vnp_TxnRef")
	if ref == "" {
		verr.Add("vnp_TxnRef", "required")
	}
	raw, err := decimal.NewFromString(params.Get("vnp_Amount"))
	if err != nil {
		verr.Add("vnp_Amount", "must be numeric")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &Notification{
		TxnRef:            ref,
		Amount:            raw.Div(amountScale),
		ResponseCode:      params.Get("vnp_ResponseCode"),
		TransactionStatus: params.Get("vnp_TransactionStatus"),
		TransactionNo:     params.Get("vnp_TransactionNo"),
		BankCode:          params.Get("vnp_BankCode"),
		PayDate:           params.Get("vnp_PayDate"),
		OrderInfo:         params.Get("vnp_OrderInfo"),
	}, nil
}

func (n *Notification) Succeeded() bool {
	if n.ResponseCode != ResponseSuccess {
		return false
	}
	return n.TransactionStatus == "" || n.TransactionStatus == ResponseSuccess
}

type queryRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

// QueryTransactionStatus calls querydr for orderID. transactionDate is the
// vnp_CreateDate of the original payment.
func (a *Adapter) QueryTransactionStatus(ctx context.Context, orderID, transactionDate, callerIP string) (map[string]any, error) {
	req := queryRequest{
		RequestID:       newRequestID(),
		Version:         a.cfg.Version,
		Command:         "querydr",
		TmnCode:         a.cfg.TmnCode,
		TxnRef:          orderID,
		OrderInfo:       "Query transaction " + orderID,
		TransactionDate: transactionDate,
		CreateDate:      a.clock.Now().In(gmt7).Format(dateLayout),
		IPAddr:          callerIP,
	}
	req.SecureHash = signature.Sign(signature.SHA512, a.cfg.HashSecret, signature.Pipe(
		req.RequestID, req.Version, req.Command, req.TmnCode, req.TxnRef,
		req.TransactionDate, req.CreateDate, req.IPAddr, req.OrderInfo,
	))
	return a.postRaw(ctx, "query", req)
}

const (
	RefundFull    = "02"
	RefundPartial = "03"
)

type RefundRequest struct {
	OrderID         string
	Amount          decimal.Decimal
	TransactionNo   string
	TransactionDate string
	TransactionType string
	CreatedBy       string
	CallerIP        string
}

type refundRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TransactionType string `json:"vnp_TransactionType"`
	TxnRef          string `json:"vnp_TxnRef"`
	Amount          string `json:"vnp_Amount"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionNo   string `json:"vnp_TransactionNo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateBy        string `json:"vnp_CreateBy"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

func (a *Adapter) RefundTransaction(ctx context.Context, r RefundRequest) (map[string]any, error) {
	scaled := r.Amount.Mul(amountScale)
	if !r.Amount.IsPositive() || !scaled.IsInteger() {
		return nil, (&domain.ValidationError{}).Add("amount", "must be positive with at most two decimals")
	}
	txType := r.TransactionType
	if txType == "" {
		txType = RefundFull
	}
	req := refundRequest{
		RequestID:       newRequestID(),
		Version:         a.cfg.Version,
		Command:         "refund",
		TmnCode:         a.cfg.TmnCode,
		TransactionType: txType,
		TxnRef:          r.OrderID,
		Amount:          scaled.StringFixed(0),
		OrderInfo:       "Refund order " + r.OrderID,
		TransactionNo:   r.TransactionNo,
		TransactionDate: r.TransactionDate,
		CreateBy:        r.CreatedBy,
		CreateDate:      a.clock.Now().In(gmt7).Format(dateLayout),
		IPAddr:          r.CallerIP,
	}
	req.SecureHash = signature.Sign(signature.SHA512, a.cfg.HashSecret, signature.Pipe(
		req.RequestID, req.Version, req.Command, req.TmnCode, req.TransactionType, req.TxnRef,
		req.Amount, req.TransactionNo, req.TransactionDate, req.CreateBy, req.CreateDate,
		req.IPAddr, req.OrderInfo,
	))
	return a.postRaw(ctx, "refund", req)
}

func (a *Adapter) postRaw(ctx context.Context, op string, body any) (map[string]any, error) {
	resp, err := a.client.PostJSON(ctx, op, a.cfg.APIURL, body)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := gateway.DecodeJSON(Name, op, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
