package mongodoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// ActiveTransactionStore implements store.ActiveTransactionRepository
// against activeTransactions.
type ActiveTransactionStore struct {
	coll *mongo.Collection
}

// Upsert inserts a new active transaction as-is, or, when one already
// exists for this txid, unions addresses into the existing document and
// leaves its block fields, status, and first_seen untouched — re-intake of
// a duplicate rawtx must never regress confirmation progress (spec §4.3/§5).
func (s *ActiveTransactionStore) Upsert(ctx context.Context, tx *model.ActiveTransaction) error {
	var existing model.ActiveTransaction
	err := s.coll.FindOne(ctx, bson.M{"_id": tx.TxID}).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		if _, err := s.coll.InsertOne(ctx, tx); err != nil {
			return fmt.Errorf("%w: insert active tx: %v", model.ErrStoreUnavailable, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: find active tx: %v", model.ErrStoreUnavailable, err)
	}

	merged := unionAddresses(existing.Addresses, tx.Addresses)
	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": tx.TxID}, bson.M{"$set": bson.M{"addresses": merged}})
	if err != nil {
		return fmt.Errorf("%w: merge active tx: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func unionAddresses(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, addr := range append(append([]string{}, a...), b...) {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func (s *ActiveTransactionStore) FindByTxID(ctx context.Context, txID string) (*model.ActiveTransaction, error) {
	var out model.ActiveTransaction
	err := s.coll.FindOne(ctx, bson.M{"_id": txID}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find active tx: %v", model.ErrStoreUnavailable, err)
	}
	return &out, nil
}

func (s *ActiveTransactionStore) ListByStatus(ctx context.Context, status model.TxStatus) ([]model.ActiveTransaction, error) {
	return s.find(ctx, bson.M{"status": status}, nil)
}

func (s *ActiveTransactionStore) ListUnverifiedSince(ctx context.Context, cutoff time.Time) ([]model.ActiveTransaction, error) {
	filter := bson.M{
		"status": model.TxStatusPending,
		"$or": []bson.M{
			{"last_verified": bson.M{"$exists": false}, "first_seen": bson.M{"$lt": cutoff}},
			{"last_verified": bson.M{"$lt": cutoff}},
		},
	}
	return s.find(ctx, filter, nil)
}

func (s *ActiveTransactionStore) UpdateConfirmation(ctx context.Context, txID string, blockHeight int64, blockHash string, blockTime time.Time, confirmations int64, status model.TxStatus) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": txID},
		bson.M{"$set": bson.M{
			"block_height":  blockHeight,
			"block_hash":    blockHash,
			"block_time":    blockTime,
			"confirmations": confirmations,
			"status":        status,
			"last_verified": time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("%w: update confirmation: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ActiveTransactionStore) TouchVerified(ctx context.Context, txID string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": txID}, bson.M{"$set": bson.M{"last_verified": at}})
	if err != nil {
		return fmt.Errorf("%w: touch verified: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ActiveTransactionStore) RevertToPending(ctx context.Context, txID string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": txID},
		bson.M{
			"$set":   bson.M{"status": model.TxStatusPending, "confirmations": int64(0), "last_verified": at},
			"$unset": bson.M{"block_height": "", "block_hash": "", "block_time": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("%w: revert to pending: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ActiveTransactionStore) Delete(ctx context.Context, txID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": txID})
	if err != nil {
		return fmt.Errorf("%w: delete active tx: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ActiveTransactionStore) ListByAddress(ctx context.Context, address string, limit int) ([]model.ActiveTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "first_seen", Value: -1}}).SetLimit(int64(limit))
	return s.find(ctx, bson.M{"addresses": address}, opts)
}

func (s *ActiveTransactionStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("%w: count active txs: %v", model.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *ActiveTransactionStore) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]model.ActiveTransaction, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find active txs: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.ActiveTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode active txs: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}
