package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	ServiceName    string
}

func NewRouter(cfg RouterConfig, purchases PurchaseService, callbacks CallbackProcessor, m *metrics.Metrics, log *slog.Logger) http.Handler {
	payments := NewPaymentHandler(purchases, callbacks, cfg.RequestTimeout, log)
	history := NewPurchaseHandler(purchases, cfg.RequestTimeout, log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware(m))
	r.Use(UserIDMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", payments.CreatePayment)
			r.Get("/{order_id}/status", payments.GetPaymentStatus)
			r.Post("/wallet/ipn", payments.WalletIPN)
			r.Get("/wallet/return", payments.WalletReturn)
			r.Get("/bank/ipn", payments.BankIPN)
			r.Get("/bank/return", payments.BankReturn)
		})
		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", history.ListPurchases)
			r.Get("/{order_id}", history.GetPurchase)
			r.Post("/{order_id}/cancel", history.CancelPurchase)
			r.Put("/{order_id}/shipping-address", history.UpdateShippingAddress)
			r.Post("/{order_id}/confirm-receipt", history.ConfirmReceipt)
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
