// Package tracker implements the confirmation tracker (C7): on every new
// block hash it re-verifies active transactions against the node, advances
// their lifecycle state machine, sweeps mature records into the archive,
// and retries transient RPC failures with capped attempts.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/event"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/rpc"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
)

const (
	// DefaultArchiveThreshold is AUTO_ARCHIVE_AFTER.
	DefaultArchiveThreshold = 144
	// DefaultPendingTxLimit caps the active-tx scan per cycle.
	DefaultPendingTxLimit = 50
	// DefaultRPCConcurrency is the worker-pool size for per-tx verification.
	DefaultRPCConcurrency = 4
	// DefaultInterBatchInterval paces bursts within the worker pool.
	DefaultInterBatchInterval = 200 * time.Millisecond
	// DefaultRetryDelay is RETRY_DELAY.
	DefaultRetryDelay = 30 * time.Second
	// DefaultMaxRetries is MAX_RETRIES.
	DefaultMaxRetries = 3
	// DefaultRetryBatchLimit caps retry-queue items drained per cycle.
	DefaultRetryBatchLimit = 10
)

// NodeRPC is the subset of internal/rpc.Client the tracker depends on.
type NodeRPC interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetRawTransaction(ctx context.Context, txid string) (*rpc.VerboseTransaction, error)
}

// WebhookEnqueuer schedules a webhook delivery.
type WebhookEnqueuer interface {
	Enqueue(ctx context.Context, req event.WebhookEnqueue) error
}

// Config tunes the tracker's per-cycle bounds.
type Config struct {
	ArchiveThreshold    int64
	PendingTxLimit      int
	RPCConcurrency      int
	InterBatchInterval  time.Duration
	RetryDelay          time.Duration
	MaxRetries          int
	RetryBatchLimit     int
}

func (c *Config) applyDefaults() {
	if c.ArchiveThreshold <= 0 {
		c.ArchiveThreshold = DefaultArchiveThreshold
	}
	if c.PendingTxLimit <= 0 {
		c.PendingTxLimit = DefaultPendingTxLimit
	}
	if c.RPCConcurrency <= 0 {
		c.RPCConcurrency = DefaultRPCConcurrency
	}
	if c.InterBatchInterval <= 0 {
		c.InterBatchInterval = DefaultInterBatchInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBatchLimit <= 0 {
		c.RetryBatchLimit = DefaultRetryBatchLimit
	}
}

type retryItem struct {
	txID        string
	attempts    int
	nextRetryAt time.Time
}

// Tracker drives the C7 state machine.
type Tracker struct {
	cfg        Config
	node       NodeRPC
	active     store.ActiveTransactionRepository
	archived   store.ArchivedTransactionRepository
	addresses  store.WatchedAddressRepository
	webhooks   store.WebhookRepository
	dispatcher WebhookEnqueuer
	logger     *slog.Logger

	inProgress atomic.Bool

	retryMu sync.Mutex
	retryQ  map[string]*retryItem
}

// New builds a Tracker. A zero Config selects every spec default.
func New(
	cfg Config,
	node NodeRPC,
	active store.ActiveTransactionRepository,
	archived store.ArchivedTransactionRepository,
	addresses store.WatchedAddressRepository,
	webhooks store.WebhookRepository,
	dispatcher WebhookEnqueuer,
	logger *slog.Logger,
) *Tracker {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:        cfg,
		node:       node,
		active:     active,
		archived:   archived,
		addresses:  addresses,
		webhooks:   webhooks,
		dispatcher: dispatcher,
		logger:     logger,
		retryQ:     make(map[string]*retryItem),
	}
}

// HandleHashBlock runs one confirmation cycle in response to a hashblock
// frame. If a cycle is already in progress, this call is a no-op — the
// next tip read will subsume the dropped frame.
func (tr *Tracker) HandleHashBlock(ctx context.Context, blockHash []byte) {
	if !tr.inProgress.CompareAndSwap(false, true) {
		return
	}
	defer tr.inProgress.Store(false)

	if err := tr.processNewBlock(ctx); err != nil {
		tr.logger.Error("tracker: cycle failed", "error", err)
	}
}

func (tr *Tracker) processNewBlock(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ConfirmationCyclesTotal.WithLabelValues().Inc()
		metrics.ConfirmationCycleLatency.WithLabelValues().Observe(time.Since(start).Seconds())
	}()

	tipHeight, err := tr.node.GetBlockCount(ctx)
	if err != nil {
		metrics.ConfirmationErrors.WithLabelValues().Inc()
		return fmt.Errorf("getblockcount: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var verifyErr, archiveErr error
	go func() {
		defer wg.Done()
		verifyErr = tr.verifyPending(ctx, tipHeight)
	}()
	go func() {
		defer wg.Done()
		archiveErr = tr.sweepArchival(ctx, tipHeight)
	}()
	wg.Wait()

	if verifyErr != nil {
		tr.logger.Error("tracker: verification pass failed", "error", verifyErr)
	}
	if archiveErr != nil {
		tr.logger.Error("tracker: archival sweep failed", "error", archiveErr)
	}

	tr.processRetryQueue(ctx, tipHeight)
	return nil
}

// verifyPending re-verifies up to PendingTxLimit active transactions
// through a bounded worker pool paced by InterBatchInterval.
func (tr *Tracker) verifyPending(ctx context.Context, tipHeight int64) error {
	pending, err := tr.active.ListByStatus(ctx, model.TxStatusPending)
	if err != nil {
		return err
	}
	confirming, err := tr.active.ListByStatus(ctx, model.TxStatusConfirming)
	if err != nil {
		return err
	}
	candidates := append(pending, confirming...)
	if len(candidates) > tr.cfg.PendingTxLimit {
		candidates = candidates[:tr.cfg.PendingTxLimit]
	}

	sem := make(chan struct{}, tr.cfg.RPCConcurrency)
	var wg sync.WaitGroup
	for i, tx := range candidates {
		if i > 0 && i%tr.cfg.RPCConcurrency == 0 {
			time.Sleep(tr.cfg.InterBatchInterval)
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(txID string) {
			defer wg.Done()
			defer func() { <-sem }()
			tr.verifyOne(ctx, txID, tipHeight)
		}(tx.TxID)
	}
	wg.Wait()
	return nil
}

func (tr *Tracker) verifyOne(ctx context.Context, txID string, tipHeight int64) {
	vtx, err := tr.node.GetRawTransaction(ctx, txID)
	if err != nil {
		metrics.ConfirmationErrors.WithLabelValues().Inc()
		tr.handleVerifyError(txID, err)
		return
	}

	if vtx.BlockHash == "" {
		// No longer in any block: if it previously carried block fields,
		// this is a reorg (§4.7) and those fields must be cleared rather
		// than left stale. Otherwise it is simply still unconfirmed; touch
		// last_verified to record the check.
		current, err := tr.active.FindByTxID(ctx, txID)
		if err != nil {
			tr.logger.Warn("tracker: lookup before revert failed", "txid", txID, "error", err)
			return
		}
		if current != nil && current.BlockHash != nil {
			if err := tr.active.RevertToPending(ctx, txID, time.Now()); err != nil {
				tr.logger.Warn("tracker: revert to pending failed", "txid", txID, "error", err)
				return
			}
			tr.emitConfirmationWebhook(ctx, txID, 0, string(model.TxStatusPending), nil, nil)
			return
		}
		if err := tr.active.TouchVerified(ctx, txID, time.Now()); err != nil {
			tr.logger.Warn("tracker: touch verified failed", "txid", txID, "error", err)
		}
		return
	}

	confirmations := int64(0)
	if tipHeight >= vtx.BlockHeight {
		confirmations = tipHeight - vtx.BlockHeight + 1
	}
	status := model.TxStatusConfirming
	if confirmations <= 0 {
		status = model.TxStatusPending
	}

	blockTime := time.Unix(vtx.BlockTime, 0).UTC()
	if err := tr.active.UpdateConfirmation(ctx, txID, vtx.BlockHeight, vtx.BlockHash, blockTime, confirmations, status); err != nil {
		tr.logger.Warn("tracker: update confirmation failed", "txid", txID, "error", err)
		return
	}

	tr.emitConfirmationWebhook(ctx, txID, confirmations, string(status), &vtx.BlockHeight, &vtx.BlockHash)
	tr.clearRetry(txID)
}

func (tr *Tracker) handleVerifyError(txID string, err error) {
	if errors.Is(err, model.ErrRpcTimeout) || errors.Is(err, model.ErrRpcUnavailable) {
		tr.enqueueRetry(txID)
		return
	}
	tr.logger.Warn("tracker: verify failed (non-retryable)", "txid", txID, "error", err)
}

func (tr *Tracker) enqueueRetry(txID string) {
	tr.retryMu.Lock()
	defer tr.retryMu.Unlock()
	item, ok := tr.retryQ[txID]
	if !ok {
		item = &retryItem{txID: txID}
		tr.retryQ[txID] = item
	}
	item.attempts++
	item.nextRetryAt = time.Now().Add(tr.cfg.RetryDelay)
	if item.attempts > tr.cfg.MaxRetries {
		delete(tr.retryQ, txID)
		tr.logger.Warn("tracker: retry budget exhausted", "txid", txID, "attempts", item.attempts)
	}
}

func (tr *Tracker) clearRetry(txID string) {
	tr.retryMu.Lock()
	delete(tr.retryQ, txID)
	tr.retryMu.Unlock()
}

// processRetryQueue drains up to RetryBatchLimit ready items.
func (tr *Tracker) processRetryQueue(ctx context.Context, tipHeight int64) {
	now := time.Now()
	tr.retryMu.Lock()
	var ready []string
	for txID, item := range tr.retryQ {
		if len(ready) >= tr.cfg.RetryBatchLimit {
			break
		}
		if !item.nextRetryAt.After(now) {
			ready = append(ready, txID)
		}
	}
	tr.retryMu.Unlock()

	for _, txID := range ready {
		tr.verifyOne(ctx, txID, tipHeight)
	}
}

// sweepArchival moves confirming transactions past ArchiveThreshold into
// ArchivedTransaction, bumping transaction_count on their addresses.
func (tr *Tracker) sweepArchival(ctx context.Context, tipHeight int64) error {
	confirming, err := tr.active.ListByStatus(ctx, model.TxStatusConfirming)
	if err != nil {
		return err
	}

	cutoffHeight := tipHeight - tr.cfg.ArchiveThreshold + 1
	for _, tx := range confirming {
		if tx.BlockHeight == nil || *tx.BlockHeight > cutoffHeight {
			continue
		}
		if err := tr.archiveOne(ctx, tx, tipHeight); err != nil {
			tr.logger.Error("tracker: archive failed", "txid", tx.TxID, "error", err)
		}
	}
	return nil
}

func (tr *Tracker) archiveOne(ctx context.Context, tx model.ActiveTransaction, tipHeight int64) error {
	archived := &model.ArchivedTransaction{
		TxID:               tx.TxID,
		Addresses:          tx.Addresses,
		BlockHeight:        *tx.BlockHeight,
		BlockHash:          *tx.BlockHash,
		FinalConfirmations: tipHeight - *tx.BlockHeight + 1,
		FirstSeen:          tx.FirstSeen,
		IsHistorical:       tx.IsHistorical,
		ArchivedAt:         time.Now(),
		ArchiveHeight:      tipHeight,
	}
	if err := tr.archived.Insert(ctx, archived); err != nil {
		return fmt.Errorf("insert archived: %w", err)
	}
	if err := tr.active.Delete(ctx, tx.TxID); err != nil {
		return fmt.Errorf("delete active: %w", err)
	}
	metrics.ConfirmationArchivedTotal.WithLabelValues().Inc()
	now := time.Now()
	for _, addr := range tx.Addresses {
		if err := tr.addresses.RecordActivity(ctx, addr, now); err != nil {
			tr.logger.Warn("tracker: record activity on archive failed", "address", addr, "error", err)
		}
	}

	tr.emitConfirmationWebhook(ctx, tx.TxID, archived.FinalConfirmations, "archived", &archived.BlockHeight, &archived.BlockHash)
	return nil
}

func (tr *Tracker) emitConfirmationWebhook(ctx context.Context, txID string, confirmations int64, status string, blockHeight *int64, blockHash *string) {
	if tr.dispatcher == nil {
		return
	}
	webhooks, err := tr.webhooks.ListActive(ctx)
	if err != nil {
		tr.logger.Warn("tracker: list webhooks failed", "error", err)
		return
	}
	tx, err := tr.active.FindByTxID(ctx, txID)
	var addrs []string
	if err == nil && tx != nil {
		addrs = tx.Addresses
	}

	for i := range webhooks {
		w := webhooks[i]
		if !w.Matches(addrs) {
			continue
		}
		req := event.WebhookEnqueue{
			WebhookID:     w.ID,
			URL:           w.URL,
			TransactionID: txID,
			Addresses:     w.Intersect(addrs),
			Confirmations: confirmations,
			Status:        status,
			BlockHeight:   blockHeight,
			BlockHash:     blockHash,
			Changes:       map[string]any{"confirmations": confirmations, "status": status},
		}
		if err := tr.dispatcher.Enqueue(ctx, req); err != nil {
			tr.logger.Warn("tracker: webhook enqueue failed", "webhook_id", w.ID, "error", err)
		}
	}
}
