// Package catalog is the settlement service's view of the product collection
// owned by the product service. It reads listings and flips their sale status.
package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
)

type Product struct {
	ID        string
	SellerRef string
	Title     string
	Category  string
	Price     decimal.Decimal
	Status    Status
	BuyerRef  string
	UpdatedAt time.Time
}

// ProductStore is what the settlement flows need from the product service.
// MarkSold and MarkAvailable are idempotent. MarkAvailable only releases a
// product still held by buyerRef; a product held by someone else, or already
// available, is left alone and is not an error.
type ProductStore interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	MarkSold(ctx context.Context, productID, buyerRef string) error
	MarkAvailable(ctx context.Context, productID, buyerRef string) error
}
