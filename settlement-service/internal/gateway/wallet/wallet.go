// Package wallet talks to the MoMo-style e-wallet gateway: create-transaction,
// IPN verification, transaction query and refund.
package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fjod/studenthub/settlement-service/internal/clock"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/signature"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const Name = "wallet"

type Config struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	SecretKey   string
	IPNURL      string
	RedirectURL string
	RequestType string
}

type Adapter struct {
	cfg    Config
	client *gateway.Client
	clock  clock.Clock
}

func New(cfg Config, client *gateway.Client, clk clock.Clock) *Adapter {
	if cfg.RequestType == "" {
		cfg.RequestType = "captureWallet"
	}
	return &Adapter{cfg: cfg, client: client, clock: clk}
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type createResponse struct {
	OrderID      string             `json:"orderId"`
	RequestID    string             `json:"requestId"`
	ResultCode   gateway.FlexString `json:"resultCode"`
	Message      string             `json:"message"`
	PayURL       string             `json:"payUrl"`
	ErrorCode    gateway.FlexString `json:"errorCode"`
	ErrorMessage string             `json:"errorMessage"`
}

// CreatePaymentURL registers the transaction with the gateway and returns the
// hosted payment page. Amounts are whole currency units.
func (a *Adapter) CreatePaymentURL(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentURL, error) {
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return nil, (&domain.ValidationError{}).Add("amount", "must be a positive whole amount")
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = strconv.FormatInt(a.clock.Now().UnixMilli(), 10)
	}
	redirectURL := a.cfg.RedirectURL
	if req.ReturnURL != "" {
		redirectURL = req.ReturnURL
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Payment for order " + orderID
	}

	body := createRequest{
		PartnerCode: a.cfg.PartnerCode,
		AccessKey:   a.cfg.AccessKey,
		RequestID:   uuid.NewString(),
		Amount:      req.Amount.IntPart(),
		OrderID:     orderID,
		OrderInfo:   orderInfo,
		RedirectURL: redirectURL,
		IPNURL:      a.cfg.IPNURL,
		ExtraData:   req.ExtraData,
		RequestType: a.cfg.RequestType,
		Lang:        lang(req.Locale),
	}
	body.Signature = signature.Sign(signature.SHA256, a.cfg.SecretKey, signature.Ordered(signature.WalletCreateKeys, map[string]string{
		"accessKey":   body.AccessKey,
		"amount":      strconv.FormatInt(body.Amount, 10),
		"extraData":   body.ExtraData,
		"ipnUrl":      body.IPNURL,
		"orderId":     body.OrderID,
		"orderInfo":   body.OrderInfo,
		"partnerCode": body.PartnerCode,
		"redirectUrl": body.RedirectURL,
		"requestId":   body.RequestID,
		"requestType": body.RequestType,
	}))

	resp, err := a.client.PostJSON(ctx, "create", a.cfg.Endpoint+"/create", body)
	if err != nil {
		return nil, err
	}
	var out createResponse
	if err := gateway.DecodeJSON(Name, "create", resp, &out); err != nil {
		return nil, err
	}
	if out.PayURL == "" {
		code, msg := out.ResultCode.String(), out.Message
		if out.ErrorCode != "" {
			code, msg = out.ErrorCode.String(), out.ErrorMessage
		}
		return nil, &gateway.Error{Gateway: Name, Op: "create", StatusCode: resp.StatusCode, Code: code, Message: msg}
	}
	return &gateway.PaymentURL{URL: out.PayURL, OrderID: orderID, RequestID: body.RequestID}, nil
}

// Notification is an IPN body or the query string of a return redirect.
type Notification struct {
	PartnerCode  string             `json:"partnerCode"`
	OrderID      string             `json:"orderId"`
	RequestID    string             `json:"requestId"`
	Amount       gateway.FlexString `json:"amount"`
	OrderInfo    string             `json:"orderInfo"`
	OrderType    string             `json:"orderType"`
	TransID      gateway.FlexString `json:"transId"`
	ResultCode   gateway.FlexString `json:"resultCode"`
	Message      string             `json:"message"`
	PayType      string             `json:"payType"`
	ResponseTime gateway.FlexString `json:"responseTime"`
	ExtraData    string             `json:"extraData"`
	Signature    string             `json:"signature"`
}

func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, (&domain.ValidationError{}).Add("body", "invalid notification json")
	}
	if n.OrderID == "" {
		return nil, (&domain.ValidationError{}).Add("orderId", "required")
	}
	return &n, nil
}

// NotificationFromQuery reads a return redirect, which carries the IPN fields
// as query parameters.
func NotificationFromQuery(q url.Values) *Notification {
	return &Notification{
		PartnerCode:  q.Get("partnerCode"),
		OrderID:      q.Get("orderId"),
		RequestID:    q.Get("requestId"),
		Amount:       gateway.FlexString(q.Get("amount")),
		OrderInfo:    q.Get("orderInfo"),
		OrderType:    q.Get("orderType"),
		TransID:      gateway.FlexString(q.Get("transId")),
		ResultCode:   gateway.FlexString(q.Get("resultCode")),
		Message:      q.Get("message"),
		PayType:      q.Get("payType"),
		ResponseTime: gateway.FlexString(q.Get("responseTime")),
		ExtraData:    q.Get("extraData"),
		Signature:    q.Get("signature"),
	}
}

func (n *Notification) Succeeded() bool {
	return n.ResultCode == "0"
}

// AmountValue is the notified amount in order currency units.
func (n *Notification) AmountValue() (decimal.Decimal, error) {
	return decimal.NewFromString(n.Amount.String())
}

func (a *Adapter) canonical(n *Notification) string {
	return signature.Ordered(signature.WalletNotifyKeys, map[string]string{
		"accessKey":    a.cfg.AccessKey,
		"amount":       n.Amount.String(),
		"extraData":    n.ExtraData,
		"message":      n.Message,
		"orderId":      n.OrderID,
		"orderInfo":    n.OrderInfo,
		"orderType":    n.OrderType,
		"partnerCode":  n.PartnerCode,
		"payType":      n.PayType,
		"requestId":    n.RequestID,
		"responseTime": n.ResponseTime.String(),
		"resultCode":   n.ResultCode.String(),
		"transId":      n.TransID.String(),
	})
}

func (a *Adapter) VerifyNotification(n *Notification) bool {
	return signature.Verify(signature.SHA256, a.cfg.SecretKey, a.canonical(n), n.Signature)
}

// SignNotification fills in the signature the gateway would have produced.
func (a *Adapter) SignNotification(n *Notification) {
	n.Signature = signature.Sign(signature.SHA256, a.cfg.SecretKey, a.canonical(n))
}

type queryRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

// QueryTransactionStatus asks the gateway for the current state of orderID and
// returns its raw response.
func (a *Adapter) QueryTransactionStatus(ctx context.Context, orderID string) (map[string]any, error) {
	body := queryRequest{
		PartnerCode: a.cfg.PartnerCode,
		AccessKey:   a.cfg.AccessKey,
		RequestID:   uuid.NewString(),
		OrderID:     orderID,
		Lang:        "vi",
	}
	body.Signature = signature.Sign(signature.SHA256, a.cfg.SecretKey, signature.Ordered(signature.WalletQueryKeys, map[string]string{
		"accessKey":   body.AccessKey,
		"orderId":     body.OrderID,
		"partnerCode": body.PartnerCode,
		"requestId":   body.RequestID,
	}))
	return a.postRaw(ctx, "query", "/query", body)
}

type RefundRequest struct {
	OrderID     string
	TransID     string
	Amount      decimal.Decimal
	Description string
}

type refundRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	TransID     int64  `json:"transId"`
	Description string `json:"description"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

func (a *Adapter) RefundTransaction(ctx context.Context, req RefundRequest) (map[string]any, error) {
	transID, err := strconv.ParseInt(req.TransID, 10, 64)
	if err != nil {
		return nil, (&domain.ValidationError{}).Add("transId", "must be numeric")
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return nil, (&domain.ValidationError{}).Add("amount", "must be a positive whole amount")
	}
	body := refundRequest{
		PartnerCode: a.cfg.PartnerCode,
		AccessKey:   a.cfg.AccessKey,
		RequestID:   uuid.NewString(),
		OrderID:     req.OrderID,
		Amount:      req.Amount.IntPart(),
		TransID:     transID,
		Description: req.Description,
		Lang:        "vi",
	}
	body.Signature = signature.Sign(signature.SHA256, a.cfg.SecretKey, signature.Ordered(signature.WalletRefundKeys, map[string]string{
		"accessKey":   body.AccessKey,
		"amount":      strconv.FormatInt(body.Amount, 10),
		"description": body.Description,
		"orderId":     body.OrderID,
		"partnerCode": body.PartnerCode,
		"requestId":   body.RequestID,
		"transId":     req.TransID,
	}))
	return a.postRaw(ctx, "refund", "/refund", body)
}

func (a *Adapter) postRaw(ctx context.Context, op, path string, body any) (map[string]any, error) {
	resp, err := a.client.PostJSON(ctx, op, a.cfg.Endpoint+path, body)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := gateway.DecodeJSON(Name, op, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeExtraData packs order metadata the way the gateway expects it: base64
// of the JSON form. An empty variant encodes to "".
func EncodeExtraData(d domain.ExtraData) (string, error) {
	if d.IsZero() {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal extra data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeExtraData(s string) (domain.ExtraData, error) {
	var d domain.ExtraData
	if s == "" {
		return d, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode extra data: %w", err)
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, err
	}
	return d, nil
}

func lang(locale string) string {
	if locale == "en" {
		return "en"
	}
	return "vi"
}
