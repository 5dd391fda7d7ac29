package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// HistoryFilter selects a buyer's purchases. Zero-valued fields do not filter.
type HistoryFilter struct {
	BuyerRef  string
	Status    PaymentStatus
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	From      *time.Time
	To        *time.Time
	Category  string
	Page      int
	Limit     int
}

// Normalize clamps paging to sane bounds.
func (f *HistoryFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

func (f HistoryFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Matches applies the filter to a single order in memory.
func (f HistoryFilter) Matches(o *Order) bool {
	if f.BuyerRef != "" && o.BuyerRef != f.BuyerRef {
		return false
	}
	if f.Status != "" && o.PaymentStatus != f.Status {
		return false
	}
	if f.MinAmount != nil && o.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && o.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.From != nil && o.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && o.CreatedAt.After(*f.To) {
		return false
	}
	if f.Category != "" && o.ProductCategory != f.Category {
		return false
	}
	return true
}

// Page is one page of results plus the unpaged total.
type Page struct {
	Orders []*Order
	Total  int
	Page   int
	Limit  int
}
