package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type PurchaseHandler struct {
	purchases PurchaseService
	timeout   time.Duration
	log       *slog.Logger
}

func NewPurchaseHandler(purchases PurchaseService, timeout time.Duration, log *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, timeout: timeout, log: log}
}

// GET /api/v1/purchases
func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	filter, err := parseHistoryFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	page, err := h.purchases.ListHistory(ctx, userID, filter)
	if err != nil {
		handleServiceError(w, h.log.With("request_id", getRequestID(r.Context())), err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(page.Orders))
	for _, o := range page.Orders {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, PurchaseHistoryDTO{
		Orders: dtos,
		Total:  page.Total,
		Page:   page.Page,
		Limit:  page.Limit,
	})
}

// GET /api/v1/purchases/{order_id}
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, http.StatusOK, func(ctx context.Context, userID, orderID string) (*domain.Order, error) {
		return h.purchases.GetDetails(ctx, userID, orderID)
	})
}

// POST /api/v1/purchases/{order_id}/cancel
func (h *PurchaseHandler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	var req CancelRequestDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	h.withOrder(w, r, http.StatusOK, func(ctx context.Context, userID, orderID string) (*domain.Order, error) {
		return h.purchases.Cancel(ctx, userID, orderID, req.Reason)
	})
}

// PUT /api/v1/purchases/{order_id}/shipping-address
func (h *PurchaseHandler) UpdateShippingAddress(w http.ResponseWriter, r *http.Request) {
	var req ShippingAddressRequestDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	h.withOrder(w, r, http.StatusOK, func(ctx context.Context, userID, orderID string) (*domain.Order, error) {
		return h.purchases.UpdateShippingAddress(ctx, userID, orderID, req.ShippingAddress)
	})
}

// POST /api/v1/purchases/{order_id}/confirm-receipt
func (h *PurchaseHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, http.StatusOK, func(ctx context.Context, userID, orderID string) (*domain.Order, error) {
		return h.purchases.ConfirmReceipt(ctx, userID, orderID)
	})
}

func (h *PurchaseHandler) withOrder(w http.ResponseWriter, r *http.Request, status int, op func(ctx context.Context, userID, orderID string) (*domain.Order, error)) {
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

	order, err := op(ctx, userID, orderID)
	if err != nil {
		handleServiceError(w, h.log.With("request_id", getRequestID(r.Context()), "order_id", orderID), err)
		return
	}
	respondJSON(w, status, convertOrder(order))
}

func parseHistoryFilter(q url.Values) (domain.HistoryFilter, error) {
	verr := &domain.ValidationError{}
	var f domain.HistoryFilter

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			verr.Add("page", "must be an integer")
		}
		f.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			verr.Add("limit", "must be an integer")
		}
		f.Limit = n
	}
	f.Status = domain.PaymentStatus(q.Get("status"))
	f.Category = q.Get("category")

	parseAmount := func(field string) *decimal.Decimal {
		v := q.Get(field)
		if v == "" {
			return nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			verr.Add(field, "must be a decimal number")
			return nil
		}
		return &d
	}
	f.MinAmount = parseAmount("min_amount")
	f.MaxAmount = parseAmount("max_amount")

	parseTime := func(field string) *time.Time {
		v := q.Get(field)
		if v == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			verr.Add(field, "must be an RFC 3339 timestamp")
			return nil
		}
		return &t
	}
	f.From = parseTime("from")
	f.To = parseTime("to")

	return f, verr.OrNil()
}
