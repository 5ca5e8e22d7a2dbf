// Package backfill implements historical backfill (C8): for a newly
// registered address it pages the block explorer under strict rate limits
// and merges discovered transactions into the active/archived collections
// without duplicating records already known.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/explorer"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
)

// DefaultMaxHistoryPerAddress is MAX_HISTORY_PER_ADDRESS.
const DefaultMaxHistoryPerAddress = 500

// NodeTipReader reports the node's current tip height.
type NodeTipReader interface {
	GetBlockCount(ctx context.Context) (int64, error)
}

// Backfill runs the per-address history pull described in spec §4.6.
type Backfill struct {
	explorerClient   *explorer.Client
	node             NodeTipReader
	active           store.ActiveTransactionRepository
	archived         store.ArchivedTransactionRepository
	addresses        store.WatchedAddressRepository
	archiveThreshold int64
	maxHistory       int
	logger           *slog.Logger
}

// New builds a Backfill.
func New(
	explorerClient *explorer.Client,
	node NodeTipReader,
	active store.ActiveTransactionRepository,
	archived store.ArchivedTransactionRepository,
	addresses store.WatchedAddressRepository,
	archiveThreshold int64,
	maxHistory int,
	logger *slog.Logger,
) *Backfill {
	if archiveThreshold <= 0 {
		archiveThreshold = 144
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistoryPerAddress
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfill{
		explorerClient:   explorerClient,
		node:             node,
		active:           active,
		archived:         archived,
		addresses:        addresses,
		archiveThreshold: archiveThreshold,
		maxHistory:       maxHistory,
		logger:           logger,
	}
}

// RunForAddress pages C5 for addr and merges discovered transactions.
// Per spec §4.6 step 5, historical_fetched is set even when zero history
// is returned, but left unset on unrecoverable explorer errors so a
// startup sweep retries it.
func (b *Backfill) RunForAddress(ctx context.Context, addr string) error {
	items, err := b.explorerClient.Paginate(ctx, addr, b.maxHistory)
	if err != nil {
		metrics.BackfillRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: page history for %s: %v", model.ErrUpstreamError, addr, err)
	}
	metrics.BackfillRunsTotal.WithLabelValues("ok").Inc()

	tipHeight, err := b.node.GetBlockCount(ctx)
	if err != nil {
		b.logger.Warn("backfill: tip height unavailable, treating as 0", "address", addr, "error", err)
		tipHeight = 0
	}

	for _, item := range items {
		if err := b.mergeOne(ctx, addr, item, tipHeight); err != nil {
			b.logger.Warn("backfill: merge failed", "address", addr, "tx_hash", item.TxHash, "error", err)
		}
	}

	return b.addresses.MarkBackfilled(ctx, addr, time.Now())
}

func (b *Backfill) mergeOne(ctx context.Context, addr string, item explorer.HistoryItem, tipHeight int64) error {
	if existing, err := b.active.FindByTxID(ctx, item.TxHash); err == nil && existing != nil {
		return nil
	}
	if existing, err := b.archived.FindByTxID(ctx, item.TxHash); err == nil && existing != nil {
		return nil
	}

	confirmations := int64(0)
	if tipHeight > 0 && item.Height > 0 {
		confirmations = tipHeight - item.Height + 1
		if confirmations < 0 {
			confirmations = 0
		}
	}

	if confirmations >= b.archiveThreshold {
		if err := b.archived.Insert(ctx, &model.ArchivedTransaction{
			TxID:               item.TxHash,
			Addresses:          []string{addr},
			BlockHeight:        item.Height,
			FinalConfirmations: confirmations,
			FirstSeen:          time.Unix(item.Time, 0).UTC(),
			IsHistorical:       true,
			ArchivedAt:         time.Now(),
			ArchiveHeight:      tipHeight,
		}); err != nil { // explorer history carries no block hash; archived record leaves it blank
			return err
		}
		metrics.BackfillTransactionsImported.WithLabelValues("archived").Inc()
		return nil
	}

	// Explorer history carries no block hash, so it cannot satisfy the
	// block_hash<=>block_height invariant for a confirming record. Leave it
	// pending with no block fields; the next confirmation-tracker cycle
	// verifies the real transaction and fills in block height/hash/status.
	if err := b.active.Upsert(ctx, &model.ActiveTransaction{
		TxID:         item.TxHash,
		Addresses:    []string{addr},
		FirstSeen:    time.Unix(item.Time, 0).UTC(),
		Status:       model.TxStatusPending,
		IsHistorical: true,
	}); err != nil {
		return err
	}
	metrics.BackfillTransactionsImported.WithLabelValues("active").Inc()
	return nil
}
