package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type productDocument struct {
	ID        string               `bson:"_id"`
	SellerID  string               `bson:"seller_id"`
	Title     string               `bson:"title"`
	Category  string               `bson:"category"`
	Price     primitive.Decimal128 `bson:"price"`
	Status    string               `bson:"status"`
	BuyerID   string               `bson:"buyer_id,omitempty"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d productDocument) toProduct() (*Product, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return nil, fmt.Errorf("product %s has invalid price: %w", d.ID, err)
	}
	return &Product{
		ID:        d.ID,
		SellerRef: d.SellerID,
		Title:     d.Title,
		Category:  d.Category,
		Price:     price,
		Status:    Status(d.Status),
		BuyerRef:  d.BuyerID,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ ProductStore = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	return &MongoStore{collection: db.Collection(collection), now: time.Now}
}

func (m *MongoStore) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var doc productDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return doc.toProduct()
}

func (m *MongoStore) MarkSold(ctx context.Context, productID, buyerRef string) error {
	update := bson.M{
		"$set": bson.M{
			"status":     string(StatusSold),
			"buyer_id":   buyerRef,
			"updated_at": m.now(),
		},
	}
	return m.update(ctx, productID, update)
}

func (m *MongoStore) MarkAvailable(ctx context.Context, productID, buyerRef string) error {
	update := bson.M{
		"$set":   bson.M{"status": string(StatusAvailable), "updated_at": m.now()},
		"$unset": bson.M{"buyer_id": ""},
	}
	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": productID, "buyer_id": buyerRef}, update)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// not held by this buyer: either sold to someone else, already released,
	// or missing altogether
	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": productID})
	if err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (m *MongoStore) update(ctx context.Context, productID string, update bson.M) error {
	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": productID}, update)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// UpsertProduct writes a listing. The product service owns these documents;
// this is for seeding and tests.
func (m *MongoStore) UpsertProduct(ctx context.Context, p *Product) error {
	price, err := primitive.ParseDecimal128(p.Price.String())
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	doc := productDocument{
		ID:        p.ID,
		SellerID:  p.SellerRef,
		Title:     p.Title,
		Category:  p.Category,
		Price:     price,
		Status:    string(p.Status),
		BuyerID:   p.BuyerRef,
		UpdatedAt: m.now(),
	}
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
