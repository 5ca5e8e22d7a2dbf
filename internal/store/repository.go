// Package store defines the persistence interfaces the pipeline depends on.
// Concrete implementations live in internal/store/mongodoc (production) and
// internal/store/memstore (tests).
package store

import (
	"context"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// WatchedAddressRepository is the backing store for trackedAddresses.
type WatchedAddressRepository interface {
	// Upsert inserts or updates a watched address. Called by the Control
	// Surface and the importaddrs command.
	Upsert(ctx context.Context, addr *model.WatchedAddress) error

	// FindByAddress returns the record, or nil if not registered.
	FindByAddress(ctx context.Context, address string) (*model.WatchedAddress, error)

	// ListActive returns every address with active == true.
	ListActive(ctx context.Context) ([]model.WatchedAddress, error)

	// ListPendingBackfill returns active addresses with historical_fetched
	// == false, the work queue for the historical backfill component.
	ListPendingBackfill(ctx context.Context) ([]model.WatchedAddress, error)

	// MarkBackfilled records that historical backfill has completed for an
	// address, stamping historical_fetched_at.
	MarkBackfilled(ctx context.Context, address string, at time.Time) error

	// RecordActivity bumps the transaction count and last-activity
	// timestamp for an address observed in a new transaction.
	RecordActivity(ctx context.Context, address string, seenAt time.Time) error

	// Deactivate flips active to false without deleting history.
	Deactivate(ctx context.Context, address string) error

	// List returns a page of watched addresses for the control surface's
	// listing endpoint, most recently created first.
	List(ctx context.Context, limit, offset int) ([]model.WatchedAddress, error)

	// Count returns the total number of registered addresses.
	Count(ctx context.Context) (int64, error)
}

// ActiveTransactionRepository is the backing store for activeTransactions.
type ActiveTransactionRepository interface {
	// Upsert inserts a new active transaction. If one already exists for
	// the txid, it adds the new addresses to it and leaves every other field
	// (first_seen, status, block fields) unchanged. Intake and the historical
	// backfill share this path.
	Upsert(ctx context.Context, tx *model.ActiveTransaction) error

	// FindByTxID returns the record, or nil if not tracked as active.
	FindByTxID(ctx context.Context, txID string) (*model.ActiveTransaction, error)

	// ListByStatus returns every active transaction in the given status,
	// used by the confirmation tracker's poll cycle.
	ListByStatus(ctx context.Context, status model.TxStatus) ([]model.ActiveTransaction, error)

	// ListUnverifiedSince returns pending transactions whose LastVerified
	// (or FirstSeen, if never verified) predates the cutoff.
	ListUnverifiedSince(ctx context.Context, cutoff time.Time) ([]model.ActiveTransaction, error)

	// UpdateConfirmation applies a confirmation update in place.
	UpdateConfirmation(ctx context.Context, txID string, blockHeight int64, blockHash string, blockTime time.Time, confirmations int64, status model.TxStatus) error

	// TouchVerified stamps LastVerified without changing confirmation data,
	// used when a poll confirms the transaction is still unconfirmed.
	TouchVerified(ctx context.Context, txID string, at time.Time) error

	// RevertToPending clears block_height, block_hash, block_time, and
	// confirmations and sets status back to pending, used when a
	// re-verification finds the transaction no longer in any block (reorg).
	RevertToPending(ctx context.Context, txID string, at time.Time) error

	// Delete removes the active record, used once archival completes.
	Delete(ctx context.Context, txID string) error

	// ListByAddress returns active transactions touching the address, for
	// the control surface's per-address transaction listing.
	ListByAddress(ctx context.Context, address string, limit int) ([]model.ActiveTransaction, error)

	// Count returns the number of currently active transactions.
	Count(ctx context.Context) (int64, error)
}

// ArchivedTransactionRepository is the backing store for archivedTransactions.
type ArchivedTransactionRepository interface {
	// Insert archives a transaction that has crossed ARCHIVE_THRESHOLD.
	// Idempotent: archiving the same txid twice is a no-op.
	Insert(ctx context.Context, tx *model.ArchivedTransaction) error

	// FindByTxID returns the record, or nil if not archived.
	FindByTxID(ctx context.Context, txID string) (*model.ArchivedTransaction, error)

	// ListByAddress returns archived transactions touching the address,
	// most recently archived first.
	ListByAddress(ctx context.Context, address string, limit int) ([]model.ArchivedTransaction, error)
}

// WebhookRepository is the backing store for webhook registrations.
type WebhookRepository interface {
	Upsert(ctx context.Context, w *model.Webhook) error
	FindByID(ctx context.Context, id string) (*model.Webhook, error)
	ListActive(ctx context.Context) ([]model.Webhook, error)
	List(ctx context.Context) ([]model.Webhook, error)
	Deactivate(ctx context.Context, id string) error
	RecordTrigger(ctx context.Context, id string, at time.Time) error
}

// WebhookQueueRepository is the backing store for webhookQueue.
type WebhookQueueRepository interface {
	// Insert enqueues a new pending delivery.
	Insert(ctx context.Context, d *model.WebhookDelivery) error

	// FindPending returns pending/retry deliveries for the same
	// (webhook_id, transaction_id) pair, used for coalescing.
	FindPending(ctx context.Context, webhookID, transactionID string) ([]model.WebhookDelivery, error)

	// ListDue returns deliveries eligible for an attempt now: status in
	// {pending, retry} and next_retry <= asOf.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.WebhookDelivery, error)

	// MarkProcessing transitions a delivery to processing, claiming it for
	// a single worker. Returns false if it was already claimed.
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// MarkCompleted records a successful delivery.
	MarkCompleted(ctx context.Context, id string, responseStatus int, at time.Time) error

	// MarkRetry schedules the next attempt after a failed delivery.
	MarkRetry(ctx context.Context, id string, nextRetry time.Time, lastError string, responseStatus int, responseExcerpt string) error

	// MarkFailed records exhaustion of the retry budget.
	MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error

	// Cancel marks a pending/retry delivery cancelled without sending it.
	Cancel(ctx context.Context, id string, reason model.CancelReason) error

	// DeleteCompletedBefore purges terminal deliveries older than the
	// cutoff, the queue's cleanup sweep.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ListByWebhook returns recent deliveries for a webhook, for the
	// control surface's delivery history endpoint.
	ListByWebhook(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error)
}
