// Package intake implements the transaction intake pipeline (C6): it turns
// a raw ZMQ rawtx frame into an ActiveTransaction record and the webhook
// enqueues that follow from it.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/addressindex"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/event"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/txscript"
)

// WebhookEnqueuer schedules a webhook delivery; implemented by
// internal/webhook.Dispatcher.
type WebhookEnqueuer interface {
	Enqueue(ctx context.Context, req event.WebhookEnqueue) error
}

// Intake consumes raw transaction bytes and drives the procedure in
// spec §4.3: extract, pre-screen, load tracked addresses, upsert, and
// schedule webhooks.
type Intake struct {
	membership *addressindex.Set
	addresses  store.WatchedAddressRepository
	active     store.ActiveTransactionRepository
	webhooks   store.WebhookRepository
	dispatcher WebhookEnqueuer
	network    txscript.Network
	maxTxSize  int
	logger     *slog.Logger
}

// New builds an Intake.
func New(
	membership *addressindex.Set,
	addresses store.WatchedAddressRepository,
	active store.ActiveTransactionRepository,
	webhooks store.WebhookRepository,
	dispatcher WebhookEnqueuer,
	network txscript.Network,
	maxTxSize int,
	logger *slog.Logger,
) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		membership: membership,
		addresses:  addresses,
		active:     active,
		webhooks:   webhooks,
		dispatcher: dispatcher,
		network:    network,
		maxTxSize:  maxTxSize,
		logger:     logger,
	}
}

// HandleRawTx processes one rawtx frame. Per-frame errors are logged and
// swallowed — the caller's receive loop must never stop on them.
func (in *Intake) HandleRawTx(ctx context.Context, raw []byte) {
	if err := in.process(ctx, raw); err != nil {
		in.logger.Warn("intake: dropped transaction", "error", err)
	}
}

func (in *Intake) process(ctx context.Context, raw []byte) error {
	maxSize := in.maxTxSize
	if maxSize <= 0 {
		maxSize = txscript.DefaultMaxTxSizeBytes
	}
	if len(raw) > maxSize {
		metrics.TxClassifiedTotal.WithLabelValues("too_large").Inc()
		return fmt.Errorf("parse: %w", model.ErrTxTooLarge)
	}
	result, err := txscript.Parse(raw, in.network)
	if err != nil {
		if errors.Is(err, model.ErrTxTooLarge) {
			metrics.TxClassifiedTotal.WithLabelValues("too_large").Inc()
		} else {
			metrics.TxClassifiedTotal.WithLabelValues("malformed").Inc()
		}
		return fmt.Errorf("parse: %w", err)
	}

	candidates := in.membership.Filter(result.AllAddresses)
	if len(candidates) == 0 {
		metrics.BloomFilterChecks.WithLabelValues("definitely_not").Inc()
		metrics.TxClassifiedTotal.WithLabelValues("bloom_rejected").Inc()
		return nil
	}
	metrics.BloomFilterChecks.WithLabelValues("maybe_member").Inc()

	tracked, err := in.trackedActive(ctx, candidates)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	if len(tracked) == 0 {
		metrics.TxClassifiedTotal.WithLabelValues("bloom_rejected").Inc()
		return nil // spurious bloom/index match; no active watched address
	}
	metrics.TxClassifiedTotal.WithLabelValues("matched").Inc()
	metrics.TransactionMatchesTotal.WithLabelValues().Add(float64(len(tracked)))

	now := time.Now()
	tx := &model.ActiveTransaction{
		TxID:      result.TxID,
		Addresses: tracked,
		FirstSeen: now,
		Status:    model.TxStatusPending,
	}
	if err := in.active.Upsert(ctx, tx); err != nil {
		return fmt.Errorf("%w: upsert active tx: %v", model.ErrStoreUnavailable, err)
	}

	for _, addr := range tracked {
		if err := in.addresses.RecordActivity(ctx, addr, now); err != nil {
			in.logger.Warn("intake: record activity failed", "address", addr, "error", err)
		}
	}

	return in.scheduleWebhooks(ctx, tx)
}

// trackedActive loads the subset of candidates whose watched-address record
// is currently active.
func (in *Intake) trackedActive(ctx context.Context, candidates []string) ([]string, error) {
	tracked := make([]string, 0, len(candidates))
	for _, addr := range candidates {
		wa, err := in.addresses.FindByAddress(ctx, addr)
		if err != nil {
			return nil, err
		}
		if wa != nil && wa.Active {
			tracked = append(tracked, addr)
		}
	}
	return tracked, nil
}

func (in *Intake) scheduleWebhooks(ctx context.Context, tx *model.ActiveTransaction) error {
	if in.dispatcher == nil {
		return nil
	}
	webhooks, err := in.webhooks.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: list webhooks: %v", model.ErrStoreUnavailable, err)
	}
	for i := range webhooks {
		w := webhooks[i]
		if !w.Matches(tx.Addresses) {
			continue
		}
		req := event.WebhookEnqueue{
			WebhookID:     w.ID,
			URL:           w.URL,
			TransactionID: tx.TxID,
			Addresses:     w.Intersect(tx.Addresses),
			Confirmations: tx.Confirmations,
			Status:        string(tx.Status),
			FirstSeen:     tx.FirstSeen,
			Changes:       map[string]any{"status": "new"},
		}
		if err := in.dispatcher.Enqueue(ctx, req); err != nil {
			in.logger.Warn("intake: webhook enqueue failed", "webhook_id", w.ID, "error", err)
		}
	}
	return nil
}
