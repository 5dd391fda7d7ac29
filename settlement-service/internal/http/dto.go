package http

import (
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/cache"
	"github.com/fjod/studenthub/settlement-service/internal/domain"
)

type CreatePaymentRequestDTO struct {
	ProductID       string        `json:"product_id"`
	PaymentMethod   string        `json:"payment_method"`
	ShippingAddress string        `json:"shipping_address"`
	Notes           *domain.Notes `json:"notes,omitempty"`
	BankCode        string        `json:"bank_code,omitempty"`
	Locale          string        `json:"locale,omitempty"`
	ReturnURL       string        `json:"return_url,omitempty"`
}

type CreatePaymentResponseDTO struct {
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
	PayURL        string `json:"pay_url,omitempty"`
}

type PaymentStatusDTO struct {
	OrderID              string `json:"order_id"`
	PaymentStatus        string `json:"payment_status"`
	PaymentMethod        string `json:"payment_method"`
	Amount               string `json:"amount"`
	TransactionID        string `json:"transaction_id,omitempty"`
	ErrorCode            string `json:"error_code,omitempty"`
	ErrorMessage         string `json:"error_message,omitempty"`
	ReceivedSuccessfully bool   `json:"received_successfully"`
	UpdatedAt            string `json:"updated_at"`
}

type OrderResponseDTO struct {
	OrderID                      string           `json:"order_id"`
	ProductID                    string           `json:"product_id"`
	ProductCategory              string           `json:"product_category,omitempty"`
	BuyerID                      string           `json:"buyer_id"`
	SellerID                     string           `json:"seller_id"`
	Amount                       string           `json:"amount"`
	AdminCommissionRate          string           `json:"admin_commission_rate"`
	AdminCommission              string           `json:"admin_commission"`
	SellerAmount                 string           `json:"seller_amount"`
	PaymentMethod                string           `json:"payment_method"`
	PaymentStatus                string           `json:"payment_status"`
	ShippingAddress              string           `json:"shipping_address,omitempty"`
	TransactionID                string           `json:"transaction_id,omitempty"`
	PayURL                       string           `json:"pay_url,omitempty"`
	ExtraData                    domain.ExtraData `json:"extra_data"`
	ErrorCode                    string           `json:"error_code,omitempty"`
	ErrorMessage                 string           `json:"error_message,omitempty"`
	ReceivedSuccessfully         bool             `json:"received_successfully"`
	ReceivedSuccessfullyDeadline *string          `json:"received_successfully_deadline,omitempty"`
	ReceivedConfirmedAt          *string          `json:"received_confirmed_at,omitempty"`
	CreatedAt                    string           `json:"created_at"`
	UpdatedAt                    string           `json:"updated_at"`
}

type PurchaseHistoryDTO struct {
	Orders []OrderResponseDTO `json:"orders"`
	Total  int                `json:"total"`
	Page   int                `json:"page"`
	Limit  int                `json:"limit"`
}

type ShippingAddressRequestDTO struct {
	ShippingAddress string `json:"shipping_address"`
}

type CancelRequestDTO struct {
	Reason string `json:"reason"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	return OrderResponseDTO{
		OrderID:                      o.OrderID,
		ProductID:                    o.ProductRef,
		ProductCategory:              o.ProductCategory,
		BuyerID:                      o.BuyerRef,
		SellerID:                     o.SellerRef,
		Amount:                       o.Amount.String(),
		AdminCommissionRate:          o.AdminCommissionRate.String(),
		AdminCommission:              o.AdminCommission.StringFixed(2),
		SellerAmount:                 o.SellerAmount.StringFixed(2),
		PaymentMethod:                string(o.PaymentMethod),
		PaymentStatus:                string(o.PaymentStatus),
		ShippingAddress:              o.ShippingAddress,
		TransactionID:                o.TransactionID,
		PayURL:                       o.PayURL,
		ExtraData:                    o.ExtraData,
		ErrorCode:                    o.ErrorCode,
		ErrorMessage:                 o.ErrorMessage,
		ReceivedSuccessfully:         o.ReceivedSuccessfully,
		ReceivedSuccessfullyDeadline: formatTimePtr(o.ReceivedSuccessfullyDeadline),
		ReceivedConfirmedAt:          formatTimePtr(o.ReceivedConfirmedAt),
		CreatedAt:                    formatTime(o.CreatedAt),
		UpdatedAt:                    formatTime(o.UpdatedAt),
	}
}

func convertStatus(s *cache.PaymentStatus) PaymentStatusDTO {
	return PaymentStatusDTO{
		OrderID:              s.OrderID,
		PaymentStatus:        string(s.Status),
		PaymentMethod:        string(s.PaymentMethod),
		Amount:               s.Amount.String(),
		TransactionID:        s.TransactionID,
		ErrorCode:            s.ErrorCode,
		ErrorMessage:         s.ErrorMessage,
		ReceivedSuccessfully: s.ReceivedSuccessfully,
		UpdatedAt:            formatTime(s.UpdatedAt),
	}
}
