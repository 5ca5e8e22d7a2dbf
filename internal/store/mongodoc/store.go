// Package mongodoc implements internal/store's repository interfaces against
// MongoDB, using the same one-collection-per-aggregate layout the spec's
// external interface names: trackedAddresses, activeTransactions,
// archivedTransactions, webhooks, webhookQueue.
package mongodoc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// defaultDatabaseName is used when the connection string carries no path
// segment naming a database.
const defaultDatabaseName = "bsv-address-tracker"

func databaseNameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDatabaseName
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return defaultDatabaseName
	}
	return name
}

// Store bundles the client and its five collections behind the
// internal/store repository interfaces.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	Addresses *AddressStore
	Active    *ActiveTransactionStore
	Archived  *ArchivedTransactionStore
	Webhooks  *WebhookStore
	Queue     *WebhookQueueStore
}

// Connect dials MongoDB and returns a Store wired against the named
// database from the connection string, or defaultDatabaseName if the URI
// carries no path segment.
func Connect(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(databaseNameFromURI(uri))

	s := &Store{
		client:    client,
		db:        db,
		Addresses: &AddressStore{coll: db.Collection("trackedAddresses")},
		Active:    &ActiveTransactionStore{coll: db.Collection("activeTransactions")},
		Archived:  &ArchivedTransactionStore{coll: db.Collection("archivedTransactions")},
		Webhooks:  &WebhookStore{coll: db.Collection("webhooks")},
		Queue:     &WebhookQueueStore{coll: db.Collection("webhookQueue")},
	}
	return s, nil
}

// EnsureIndexes creates the secondary indexes the query patterns in
// internal/store's interfaces depend on. Safe to call on every startup;
// CreateMany is a no-op for indexes that already exist with the same spec.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.Addresses.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "active", Value: 1}}},
		{Keys: bson.D{{Key: "historical_fetched", Value: 1}}},
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "historical_fetched", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("trackedAddresses indexes: %w", err)
	}

	if _, err := s.Active.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "addresses", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "block_height", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "block_height", Value: 1}}},
		{Keys: bson.D{{Key: "first_seen", Value: -1}}},
		{Keys: bson.D{{Key: "last_verified", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("activeTransactions indexes: %w", err)
	}

	if _, err := s.Archived.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "addresses", Value: 1}}},
		{Keys: bson.D{{Key: "archived_at", Value: -1}}},
		{Keys: bson.D{{Key: "block_height", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("archivedTransactions indexes: %w", err)
	}

	if _, err := s.Webhooks.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "active", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("webhooks indexes: %w", err)
	}

	if _, err := s.Queue.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry", Value: 1}}},
		{Keys: bson.D{{Key: "webhook_id", Value: 1}, {Key: "transaction_id", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("webhookQueue indexes: %w", err)
	}
	return nil
}

// Disconnect closes the underlying client, flushing any pending writes.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
