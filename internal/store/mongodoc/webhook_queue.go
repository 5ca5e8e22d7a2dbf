package mongodoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// WebhookQueueStore implements store.WebhookQueueRepository against
// webhookQueue.
type WebhookQueueStore struct {
	coll *mongo.Collection
}

func (s *WebhookQueueStore) Insert(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, err := s.coll.InsertOne(ctx, d); err != nil {
		return fmt.Errorf("%w: insert delivery: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookQueueStore) FindPending(ctx context.Context, webhookID, transactionID string) ([]model.WebhookDelivery, error) {
	filter := bson.M{
		"webhook_id":     webhookID,
		"transaction_id": transactionID,
		"status":         bson.M{"$in": bson.A{model.DeliveryStatusPending, model.DeliveryStatusRetry}},
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: find pending deliveries: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.WebhookDelivery
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode pending deliveries: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *WebhookQueueStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.WebhookDelivery, error) {
	filter := bson.M{
		"status":     bson.M{"$in": bson.A{model.DeliveryStatusPending, model.DeliveryStatusRetry}},
		"next_retry": bson.M{"$lte": asOf},
	}
	opts := options.Find().SetSort(bson.D{{Key: "next_retry", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list due deliveries: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.WebhookDelivery
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode due deliveries: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}

// MarkProcessing atomically claims a delivery with a findOneAndUpdate guard
// on its current status, so two dispatcher instances racing on the same
// document never both attempt it.
func (s *WebhookQueueStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{model.DeliveryStatusPending, model.DeliveryStatusRetry}},
	}
	update := bson.M{"$set": bson.M{"status": model.DeliveryStatusProcessing, "last_attempt": now}, "$inc": bson.M{"attempts": 1}}
	err := s.coll.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		exists, existsErr := s.coll.CountDocuments(ctx, bson.M{"_id": id})
		if existsErr != nil {
			return false, fmt.Errorf("%w: check claim: %v", model.ErrStoreUnavailable, existsErr)
		}
		if exists == 0 {
			return false, model.ErrNotFound
		}
		return false, nil // already claimed by another worker
	}
	if err != nil {
		return false, fmt.Errorf("%w: claim delivery: %v", model.ErrStoreUnavailable, err)
	}
	return true, nil
}

func (s *WebhookQueueStore) MarkCompleted(ctx context.Context, id string, responseStatus int, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": model.DeliveryStatusCompleted, "response_status": responseStatus, "completed_at": at}},
	)
	if err != nil {
		return fmt.Errorf("%w: mark completed: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookQueueStore) MarkRetry(ctx context.Context, id string, nextRetry time.Time, lastError string, responseStatus int, responseExcerpt string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"status":           model.DeliveryStatusRetry,
			"next_retry":       nextRetry,
			"last_error":       lastError,
			"response_status":  responseStatus,
			"response_excerpt": responseExcerpt,
		}},
	)
	if err != nil {
		return fmt.Errorf("%w: mark retry: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookQueueStore) MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": model.DeliveryStatusFailed, "last_error": lastError, "failed_at": at}},
	)
	if err != nil {
		return fmt.Errorf("%w: mark failed: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookQueueStore) Cancel(ctx context.Context, id string, reason model.CancelReason) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": model.DeliveryStatusCancelled, "cancel_reason": reason}},
	)
	if err != nil {
		return fmt.Errorf("%w: cancel delivery: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *WebhookQueueStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"status": model.DeliveryStatusCompleted, "completed_at": bson.M{"$lt": cutoff}},
			bson.M{"status": model.DeliveryStatusFailed, "failed_at": bson.M{"$lt": cutoff}},
			bson.M{"status": model.DeliveryStatusCancelled, "created_at": bson.M{"$lt": cutoff}},
		},
	}
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%w: delete completed: %v", model.ErrStoreUnavailable, err)
	}
	return res.DeletedCount, nil
}

func (s *WebhookQueueStore) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"webhook_id": webhookID}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list by webhook: %v", model.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []model.WebhookDelivery
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode deliveries: %v", model.ErrStoreUnavailable, err)
	}
	return out, nil
}
