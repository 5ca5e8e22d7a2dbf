package backfill

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/explorer"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store/memstore"
)

type stubTip struct {
	height int64
	err    error
}

func (s *stubTip) GetBlockCount(ctx context.Context) (int64, error) { return s.height, s.err }

func newExplorerServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestBackfill_NoHistory_StillMarksFetched(t *testing.T) {
	ctx := context.Background()
	srv := newExplorerServer(t, `{"result":[]}`)
	defer srv.Close()

	ec := explorer.NewClient(srv.URL, "", time.Millisecond)
	active := memstore.NewActiveTransactionStore()
	archived := memstore.NewArchivedTransactionStore()
	addresses := memstore.NewWatchedAddressStore()
	require.NoError(t, addresses.Upsert(ctx, &model.WatchedAddress{Address: "addr1", Active: true}))

	bf := New(ec, &stubTip{height: 1000}, active, archived, addresses, 144, 0, nil)
	require.NoError(t, bf.RunForAddress(ctx, "addr1"))

	rec, err := addresses.FindByAddress(ctx, "addr1")
	require.NoError(t, err)
	assert.True(t, rec.HistoricalFetched)
}

func TestBackfill_OldTransaction_RoutesDirectlyToArchived(t *testing.T) {
	ctx := context.Background()
	srv := newExplorerServer(t, `{"result":[{"tx_hash":"deadbeef","height":100,"time":1600000000}]}`)
	defer srv.Close()

	ec := explorer.NewClient(srv.URL, "", time.Millisecond)
	active := memstore.NewActiveTransactionStore()
	archived := memstore.NewArchivedTransactionStore()
	addresses := memstore.NewWatchedAddressStore()
	require.NoError(t, addresses.Upsert(ctx, &model.WatchedAddress{Address: "addr1", Active: true}))

	bf := New(ec, &stubTip{height: 1000}, active, archived, addresses, 144, 0, nil)
	require.NoError(t, bf.RunForAddress(ctx, "addr1"))

	tx, err := archived.FindByTxID(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, int64(901), tx.FinalConfirmations)
	assert.True(t, tx.IsHistorical)

	activeTx, err := active.FindByTxID(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, activeTx)
}

func TestBackfill_RecentTransaction_RoutesToActivePendingWithNoBlockFields(t *testing.T) {
	ctx := context.Background()
	srv := newExplorerServer(t, `{"result":[{"tx_hash":"cafef00d","height":995,"time":1600000000}]}`)
	defer srv.Close()

	ec := explorer.NewClient(srv.URL, "", time.Millisecond)
	active := memstore.NewActiveTransactionStore()
	archived := memstore.NewArchivedTransactionStore()
	addresses := memstore.NewWatchedAddressStore()
	require.NoError(t, addresses.Upsert(ctx, &model.WatchedAddress{Address: "addr1", Active: true}))

	bf := New(ec, &stubTip{height: 1000}, active, archived, addresses, 144, 0, nil)
	require.NoError(t, bf.RunForAddress(ctx, "addr1"))

	tx, err := active.FindByTxID(ctx, "cafef00d")
	require.NoError(t, err)
	require.NotNil(t, tx)
	// Explorer history has no block hash, so the record is left pending for
	// the confirmation tracker to verify and promote, not marked confirming
	// without one.
	assert.Equal(t, model.TxStatusPending, tx.Status)
	assert.Nil(t, tx.BlockHeight)
	assert.Nil(t, tx.BlockHash)
	assert.True(t, tx.IsHistorical)
}

func TestBackfill_AlreadyKnownTransaction_Skipped(t *testing.T) {
	ctx := context.Background()
	srv := newExplorerServer(t, `{"result":[{"tx_hash":"existing","height":995,"time":1600000000}]}`)
	defer srv.Close()

	ec := explorer.NewClient(srv.URL, "", time.Millisecond)
	active := memstore.NewActiveTransactionStore()
	archived := memstore.NewArchivedTransactionStore()
	addresses := memstore.NewWatchedAddressStore()
	require.NoError(t, addresses.Upsert(ctx, &model.WatchedAddress{Address: "addr1", Active: true}))
	require.NoError(t, active.Upsert(ctx, &model.ActiveTransaction{
		TxID: "existing", Addresses: []string{"addr1"}, FirstSeen: time.Now(), Status: model.TxStatusPending,
	}))

	bf := New(ec, &stubTip{height: 1000}, active, archived, addresses, 144, 0, nil)
	require.NoError(t, bf.RunForAddress(ctx, "addr1"))

	tx, err := active.FindByTxID(ctx, "existing")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, model.TxStatusPending, tx.Status) // untouched by backfill
}

func TestBackfill_TipUnavailable_TreatsAsZeroAndStaysPending(t *testing.T) {
	ctx := context.Background()
	srv := newExplorerServer(t, `{"result":[{"tx_hash":"abc123","height":500,"time":1600000000}]}`)
	defer srv.Close()

	ec := explorer.NewClient(srv.URL, "", time.Millisecond)
	active := memstore.NewActiveTransactionStore()
	archived := memstore.NewArchivedTransactionStore()
	addresses := memstore.NewWatchedAddressStore()
	require.NoError(t, addresses.Upsert(ctx, &model.WatchedAddress{Address: "addr1", Active: true}))

	bf := New(ec, &stubTip{err: errors.New("node unreachable")}, active, archived, addresses, 144, 0, nil)
	require.NoError(t, bf.RunForAddress(ctx, "addr1"))

	tx, err := active.FindByTxID(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, model.TxStatusPending, tx.Status)
	assert.Zero(t, tx.Confirmations)
}
