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

// AddressStore implements store.WatchedAddressRepository against
// trackedAddresses.
type AddressStore struct {
	coll *mongo.Collection
}

func (s *AddressStore) Upsert(ctx context.Context, addr *model.WatchedAddress) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": addr.Address}, addr, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: upsert address: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *AddressStore) FindByAddress(ctx context.Context, address string) (*model.WatchedAddress, error) {
	var out model.WatchedAddress
	err := s.coll.FindOne(ctx, bson.M{"_id": address}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find address: %v", model.ErrStoreUnavailable, err)
	}
	return &out, nil
}

func (s *AddressStore) ListActive(ctx context.Context) ([]model.WatchedAddress, error) {
	return s.find(ctx, bson.M{"active": true}, nil)
}

func (s *AddressStore) ListPendingBackfill(ctx context.Context) ([]model.WatchedAddress, error) {
	return s.find(ctx, bson.M{"active": true, "historical_fetched": false}, nil)
}

func (s *AddressStore) MarkBackfilled(ctx context.Context, address string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": address},
		bson.M{"$set": bson.M{"historical_fetched": true, "historical_fetched_at": at}},
	)
	if err != nil {
		return fmt.Errorf("%w: mark backfilled: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *AddressStore) RecordActivity(ctx context.Context, address string, seenAt time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": address},
		bson.M{
			"$inc": bson.M{"transaction_count": 1},
			"$set": bson.M{"last_activity": seenAt},
		},
	)
	if err != nil {
		return fmt.Errorf("%w: record activity: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *AddressStore) Deactivate(ctx context.Context, address string) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": address}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return fmt.Errorf("%w: deactivate address: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *AddressStore) List(ctx context.Context, limit, offset int) ([]model.WatchedAddress, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetSkip(int64(offset)).SetLimit(int64(limit))
	return s.find(ctx, bson.M{}, opts)
}

func (s *AddressStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("%w: count addresses: %v", model.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *AddressStore) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]model.WatchedAddress, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find addresses: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.WatchedAddress
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode addresses: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}
