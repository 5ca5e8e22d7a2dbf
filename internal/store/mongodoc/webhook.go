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

// WebhookStore implements store.WebhookRepository against webhooks.
type WebhookStore struct {
	coll *mongo.Collection
}

func (s *WebhookStore) Upsert(ctx context.Context, w *model.Webhook) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": w.ID}, w, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: upsert webhook: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookStore) FindByID(ctx context.Context, id string) (*model.Webhook, error) {
	var out model.Webhook
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find webhook: %v", model.ErrStoreUnavailable, err)
	}
	return &out, nil
}

func (s *WebhookStore) ListActive(ctx context.Context) ([]model.Webhook, error) {
	return s.find(ctx, bson.M{"active": true})
}

func (s *WebhookStore) List(ctx context.Context) ([]model.Webhook, error) {
	return s.find(ctx, bson.M{})
}

func (s *WebhookStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return fmt.Errorf("%w: deactivate webhook: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"trigger_count": 1}, "$set": bson.M{"last_triggered": at}},
	)
	if err != nil {
		return fmt.Errorf("%w: record trigger: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookStore) find(ctx context.Context, filter bson.M) ([]model.Webhook, error) {
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: find webhooks: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.Webhook
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode webhooks: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}
