package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/studenthub/settlement-service/internal/catalog"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
	"github.com/fjod/studenthub/settlement-service/internal/gateway/wallet"
	"github.com/google/uuid"
)

type CreatePaymentRequest struct {
	BuyerRef        string
	ProductRef      string
	PaymentMethod   domain.PaymentMethod
	ShippingAddress string
	Notes           *domain.Notes
	BankCode        string
	Locale          string
	CallerIP        string
	ReturnURL       string
}

type CreatePaymentResult struct {
	Order  *domain.Order
	PayURL string
}

func (r CreatePaymentRequest) validate() error {
	verr := &domain.ValidationError{}
	if r.BuyerRef == "" {
		verr.Add("buyer", "required")
	}
	if r.ProductRef == "" {
		verr.Add("product_id", "required")
	}
	if !r.PaymentMethod.Valid() {
		verr.Add("payment_method", "must be one of wallet, bank, cash")
	}
	if r.PaymentMethod == domain.PaymentMethodBank && strings.TrimSpace(r.ShippingAddress) == "" {
		verr.Add("shipping_address", "required for bank payments")
	}
	return verr.OrNil()
}

// CreatePayment opens a pending order for the product. Wallet and bank
// payments return the gateway URL the buyer must visit; cash orders are
// completed before returning.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	product, err := s.products.GetProduct(ctx, req.ProductRef)
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, &domain.NotFoundError{Kind: "product", ID: req.ProductRef, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", req.ProductRef, err)
	}
	if product.SellerRef == req.BuyerRef {
		return nil, (&domain.ValidationError{}).Add("product_id", "cannot buy your own product")
	}
	if product.Status != catalog.StatusAvailable {
		return nil, &domain.StateConflictError{Reason: "product is no longer available", Err: domain.ErrProductSold}
	}
	if !product.Price.IsPositive() {
		return nil, (&domain.ValidationError{}).Add("amount", "product price must be positive")
	}

	now := s.clock.Now()
	order := &domain.Order{
		OrderID:             uuid.NewString(),
		RequestID:           uuid.NewString(),
		Amount:              product.Price,
		ProductRef:          product.ID,
		ProductCategory:     product.Category,
		BuyerRef:            req.BuyerRef,
		SellerRef:           product.SellerRef,
		PaymentMethod:       req.PaymentMethod,
		PaymentStatus:       domain.PaymentStatusPending,
		AdminCommissionRate: s.commissionRate,
		ShippingAddress:     strings.TrimSpace(req.ShippingAddress),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.Notes != nil {
		order.ExtraData = domain.NotesData(*req.Notes)
	}
	order.RecomputeCommission()

	log := s.log.With("order_id", order.OrderID, "payment_method", order.PaymentMethod)

	if order.PaymentMethod == domain.PaymentMethodCash {
		return s.createCash(ctx, order)
	}

	gw, ok := s.gateways[order.PaymentMethod]
	if !ok {
		return nil, (&domain.ValidationError{}).Add("payment_method", "gateway not configured")
	}
	extra, err := wallet.EncodeExtraData(order.ExtraData)
	if err != nil {
		return nil, fmt.Errorf("encode extra data: %w", err)
	}
	payURL, err := gw.CreatePaymentURL(ctx, gateway.PaymentRequest{
		Amount:    order.Amount,
		OrderID:   order.OrderID,
		OrderInfo: "Payment for order " + order.OrderID,
		BankCode:  req.BankCode,
		Locale:    req.Locale,
		CallerIP:  req.CallerIP,
		ReturnURL: req.ReturnURL,
		ExtraData: extra,
	})
	if err != nil {
		log.Warn("failed to create payment url", "error", err)
		return nil, fmt.Errorf("create payment url: %w", err)
	}
	order.PayURL = payURL.URL
	if payURL.RequestID != "" {
		order.RequestID = payURL.RequestID
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	log.Info("payment created", "amount", order.Amount.String())
	return &CreatePaymentResult{Order: order, PayURL: order.PayURL}, nil
}

func (s *Service) createCash(ctx context.Context, order *domain.Order) (*CreatePaymentResult, error) {
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	completed, _, err := s.ledger.Complete(ctx, order.OrderID, "cash-"+order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("complete cash order: %w", err)
	}
	s.log.Info("cash payment completed", "order_id", order.OrderID, "amount", order.Amount.String())
	return &CreatePaymentResult{Order: completed}, nil
}
