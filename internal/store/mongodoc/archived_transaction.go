package mongodoc

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// ArchivedTransactionStore implements store.ArchivedTransactionRepository
// against archivedTransactions.
type ArchivedTransactionStore struct {
	coll *mongo.Collection
}

// Insert is idempotent: a duplicate _id write is treated as already-archived,
// not an error, since the confirmation tracker and backfill sweep can both
// race to archive the same historical transaction.
func (s *ArchivedTransactionStore) Insert(ctx context.Context, tx *model.ArchivedTransaction) error {
	_, err := s.coll.InsertOne(ctx, tx)
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return fmt.Errorf("%w: insert archived tx: %v", model.ErrStoreUnavailable, err)
}

func (s *ArchivedTransactionStore) FindByTxID(ctx context.Context, txID string) (*model.ArchivedTransaction, error) {
	var out model.ArchivedTransaction
	err := s.coll.FindOne(ctx, bson.M{"_id": txID}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find archived tx: %v", model.ErrStoreUnavailable, err)
	}
	return &out, nil
}

func (s *ArchivedTransactionStore) ListByAddress(ctx context.Context, address string, limit int) ([]model.ArchivedTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "archived_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"addresses": address}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find archived txs: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.ArchivedTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode archived txs: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}
