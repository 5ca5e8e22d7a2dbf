package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

func TestActiveTransactionStore_UpsertUnionsAddresses(t *testing.T) {
	s := NewActiveTransactionStore()
	ctx := context.Background()
	firstSeen := time.Now()

	require.NoError(t, s.Upsert(ctx, &model.ActiveTransaction{
		TxID: "tx1", Addresses: []string{"a"}, FirstSeen: firstSeen, Status: model.TxStatusPending,
	}))
	require.NoError(t, s.Upsert(ctx, &model.ActiveTransaction{
		TxID: "tx1", Addresses: []string{"b"}, FirstSeen: time.Now().Add(time.Hour), Status: model.TxStatusPending,
	}))

	tx, err := s.FindByTxID(ctx, "tx1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, tx.Addresses)
	assert.True(t, tx.FirstSeen.Equal(firstSeen), "first_seen must not regress on repeated upsert")
}

func TestWebhookQueueStore_CoalescesPendingOnCancel(t *testing.T) {
	s := NewWebhookQueueStore()
	ctx := context.Background()
	txID := "tx1"

	first := &model.WebhookDelivery{WebhookID: "w1", TransactionID: &txID, Status: model.DeliveryStatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, first))

	pending, err := s.FindPending(ctx, "w1", txID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.Cancel(ctx, first.ID, model.CancelReasonSuperseded))

	pending, err = s.FindPending(ctx, "w1", txID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWebhookQueueStore_MarkProcessingClaimsOnce(t *testing.T) {
	s := NewWebhookQueueStore()
	ctx := context.Background()
	d := &model.WebhookDelivery{WebhookID: "w1", Status: model.DeliveryStatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, d))

	claimed, err := s.MarkProcessing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimedAgain, err := s.MarkProcessing(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, claimedAgain)
}

func TestWatchedAddressStore_ListPendingBackfill(t *testing.T) {
	s := NewWatchedAddressStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, &model.WatchedAddress{Address: "a", Active: true, HistoricalFetched: false}))
	require.NoError(t, s.Upsert(ctx, &model.WatchedAddress{Address: "b", Active: true, HistoricalFetched: true}))

	pending, err := s.ListPendingBackfill(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].Address)
}
