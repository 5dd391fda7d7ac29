package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Connect opens the product database. Writes go to the primary since sale
// status flips must be read back immediately by the purchase flow.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("settlement-service").
		SetReadPreference(readpref.Primary()).
		SetRetryWrites(true).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to product database: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping product database: %w", err)
	}
	return client.Database(database), nil
}
