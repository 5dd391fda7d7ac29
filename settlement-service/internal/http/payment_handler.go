package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/cache"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/purchase"
	"github.com/fjod/studenthub/settlement-service/internal/webhook"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 1 << 20 // 1MB

type PurchaseService interface {
	CreatePayment(ctx context.Context, req purchase.CreatePaymentRequest) (*purchase.CreatePaymentResult, error)
	GetPaymentStatus(ctx context.Context, actor, orderID string) (*cache.PaymentStatus, error)
	ListHistory(ctx context.Context, actor string, filter domain.HistoryFilter) (*domain.Page, error)
	GetDetails(ctx context.Context, actor, orderID string) (*domain.Order, error)
	Cancel(ctx context.Context, actor, orderID, reason string) (*domain.Order, error)
	UpdateShippingAddress(ctx context.Context, actor, orderID, address string) (*domain.Order, error)
	ConfirmReceipt(ctx context.Context, actor, orderID string) (*domain.Order, error)
}

type CallbackProcessor interface {
	Wallet(ctx context.Context, body []byte) webhook.WalletAck
	WalletReturn(ctx context.Context, query url.Values) webhook.WalletAck
	Bank(ctx context.Context, params url.Values) webhook.BankAck
}

type PaymentHandler struct {
	purchases PurchaseService
	callbacks CallbackProcessor
	timeout   time.Duration
	log       *slog.Logger
}

func NewPaymentHandler(purchases PurchaseService, callbacks CallbackProcessor, timeout time.Duration, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		purchases: purchases,
		callbacks: callbacks,
		timeout:   timeout,
		log:       log,
	}
}

// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CreatePaymentRequestDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	res, err := h.purchases.CreatePayment(ctx, purchase.CreatePaymentRequest{
		BuyerRef:        userID,
		ProductRef:      req.ProductID,
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		BankCode:        req.BankCode,
		Locale:          req.Locale,
		CallerIP:        callerIP(r),
		ReturnURL:       req.ReturnURL,
	})
	if err != nil {
		handleServiceError(w, h.log.With("request_id", getRequestID(r.Context())), err)
		return
	}

	respondJSON(w, http.StatusCreated, CreatePaymentResponseDTO{
		OrderID:       res.Order.OrderID,
		PaymentStatus: string(res.Order.PaymentStatus),
		PayURL:        res.PayURL,
	})
}

// GET /api/v1/payments/{order_id}/status
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	status, err := h.purchases.GetPaymentStatus(ctx, userID, orderID)
	if err != nil {
		handleServiceError(w, h.log.With("request_id", getRequestID(r.Context())), err)
		return
	}
	respondJSON(w, http.StatusOK, convertStatus(status))
}

// POST /api/v1/payments/wallet/ipn
func (h *PaymentHandler) WalletIPN(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, webhook.WalletAck{ResultCode: webhook.WalletCodeUnknown, Message: "invalid request"})
		return
	}
	ack := h.callbacks.Wallet(r.Context(), body)
	respondJSON(w, ack.HTTPStatus, ack)
}

// GET /api/v1/payments/wallet/return
func (h *PaymentHandler) WalletReturn(w http.ResponseWriter, r *http.Request) {
	ack := h.callbacks.WalletReturn(r.Context(), r.URL.Query())
	respondJSON(w, ack.HTTPStatus, map[string]any{
		"order_id":   r.URL.Query().Get("orderId"),
		"resultCode": ack.ResultCode,
		"message":    ack.Message,
	})
}

// GET /api/v1/payments/bank/ipn
func (h *PaymentHandler) BankIPN(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.callbacks.Bank(r.Context(), r.URL.Query()))
}

// GET /api/v1/payments/bank/return
func (h *PaymentHandler) BankReturn(w http.ResponseWriter, r *http.Request) {
	ack := h.callbacks.Bank(r.Context(), r.URL.Query())
	respondJSON(w, http.StatusOK, map[string]any{
		"order_id": r.URL.Query().Get("vnp_TxnRef"),
		"code":     ack.Code,
		"message":  ack.Message,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// callerIP expects middleware.RealIP to have normalised RemoteAddr.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
