package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/event"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store/memstore"
)

func TestDispatcher_Enqueue_CoalescesPendingDeliveries(t *testing.T) {
	ctx := context.Background()
	queue := memstore.NewWebhookQueueStore()
	d := New(queue, nil, Config{}, nil)

	req := event.WebhookEnqueue{WebhookID: "wh1", URL: "https://example.test", TransactionID: "tx1", Status: "pending"}
	require.NoError(t, d.Enqueue(ctx, req))
	require.NoError(t, d.Enqueue(ctx, req))

	all, err := queue.ListByWebhook(ctx, "wh1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	var pending, cancelled int
	for _, del := range all {
		switch del.Status {
		case model.DeliveryStatusPending:
			pending++
		case model.DeliveryStatusCancelled:
			cancelled++
			assert.Equal(t, model.CancelReasonSuperseded, del.CancelReason)
		}
	}
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, cancelled)
}

func TestDispatcher_ProcessDue_SuccessMarksCompleted(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := memstore.NewWebhookQueueStore()
	d := New(queue, nil, Config{}, nil)
	require.NoError(t, d.Enqueue(ctx, event.WebhookEnqueue{WebhookID: "wh1", URL: srv.URL, TransactionID: "tx1"}))

	n, err := d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deliveries, err := queue.ListByWebhook(ctx, "wh1", 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStatusCompleted, deliveries[0].Status)
}

func TestDispatcher_ProcessDue_FailureSchedulesRetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	queue := memstore.NewWebhookQueueStore()
	d := New(queue, nil, Config{MaxRetries: 5}, nil)
	require.NoError(t, d.Enqueue(ctx, event.WebhookEnqueue{WebhookID: "wh1", URL: srv.URL, TransactionID: "tx1"}))

	before := time.Now()
	n, err := d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deliveries, err := queue.ListByWebhook(ctx, "wh1", 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStatusRetry, deliveries[0].Status)
	assert.WithinDuration(t, before.Add(BackoffSchedule[0]), deliveries[0].NextRetry, 2*time.Second)
}

func TestDispatcher_ProcessDue_ExhaustedRetriesMarksFailed(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	queue := memstore.NewWebhookQueueStore()
	d := New(queue, nil, Config{MaxRetries: 1}, nil)
	require.NoError(t, d.Enqueue(ctx, event.WebhookEnqueue{WebhookID: "wh1", URL: srv.URL, TransactionID: "tx1"}))

	_, err := d.ProcessDue(ctx)
	require.NoError(t, err)

	deliveries, err := queue.ListByWebhook(ctx, "wh1", 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStatusFailed, deliveries[0].Status)
}

func TestDispatcher_Cleanup_RemovesOldTerminalDeliveries(t *testing.T) {
	ctx := context.Background()
	queue := memstore.NewWebhookQueueStore()
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, queue.Insert(ctx, &model.WebhookDelivery{WebhookID: "wh1", CreatedAt: old}))
	id := ""
	all, _ := queue.ListByWebhook(ctx, "wh1", 0)
	require.Len(t, all, 1)
	id = all[0].ID
	require.NoError(t, queue.MarkCompleted(ctx, id, 200, old))

	d := New(queue, nil, Config{CleanupAfter: 24 * time.Hour}, nil)
	n, err := d.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
