// Package webhook implements the durable webhook dispatcher (C9): it
// enqueues deliveries derived from transaction lifecycle events, coalesces
// superseded ones, and drives a retry loop with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/event"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
)

// BackoffSchedule is the retry delay ladder from spec §4.7: the Nth retry
// (1-indexed) waits BackoffSchedule[min(N,len)-1].
var BackoffSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	5 * time.Minute,
	1 * time.Hour,
}

const (
	// DefaultBatchSize is WEBHOOK_BATCH_SIZE.
	DefaultBatchSize = 10
	// DefaultProcessingInterval is WEBHOOK_PROCESSING_INTERVAL.
	DefaultProcessingInterval = 5 * time.Second
	// DefaultTimeout is WEBHOOK_TIMEOUT.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRetries is WEBHOOK_MAX_RETRIES.
	DefaultMaxRetries = 5
	// DefaultCleanupAfter is WEBHOOK_CLEANUP_DAYS expressed as a duration.
	DefaultCleanupAfter = 7 * 24 * time.Hour
	// responseExcerptLimit truncates stored response bodies to the first 1KB.
	responseExcerptLimit = 1024
)

// Config tunes the dispatcher; zero values resolve to the defaults above.
type Config struct {
	BatchSize          int
	ProcessingInterval time.Duration
	Timeout            time.Duration
	MaxRetries         int
	CleanupAfter       time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ProcessingInterval <= 0 {
		c.ProcessingInterval = DefaultProcessingInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CleanupAfter <= 0 {
		c.CleanupAfter = DefaultCleanupAfter
	}
}

// Dispatcher owns the webhook delivery queue: enqueue, coalesce, attempt,
// and clean up.
type Dispatcher struct {
	queue      store.WebhookQueueRepository
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// New builds a Dispatcher. httpClient may be nil to use a default with
// cfg.Timeout.
func New(queue store.WebhookQueueRepository, httpClient *http.Client, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, httpClient: httpClient, cfg: cfg, logger: logger}
}

// Enqueue schedules a new delivery for req, cancelling any pending or
// retry-scheduled delivery already queued for the same (webhook,
// transaction) pair first, per spec §4.7's coalescing rule.
func (d *Dispatcher) Enqueue(ctx context.Context, req event.WebhookEnqueue) error {
	pending, err := d.queue.FindPending(ctx, req.WebhookID, req.TransactionID)
	if err != nil {
		return fmt.Errorf("%w: find pending: %v", model.ErrStoreUnavailable, err)
	}
	for _, p := range pending {
		if err := d.queue.Cancel(ctx, p.ID, model.CancelReasonSuperseded); err != nil {
			d.logger.Warn("webhook: cancel superseded delivery failed", "delivery_id", p.ID, "error", err)
		}
	}

	txID := req.TransactionID
	delivery := &model.WebhookDelivery{
		WebhookID:     req.WebhookID,
		URL:           req.URL,
		TransactionID: &txID,
		Status:        model.DeliveryStatusPending,
		NextRetry:     time.Now(),
		CreatedAt:     time.Now(),
		Payload: model.WebhookPayload{
			Timestamp: time.Now().UTC(),
			Changes:   req.Changes,
			Transaction: model.WebhookPayloadTx{
				ID:            req.TransactionID,
				Addresses:     req.Addresses,
				Confirmations: req.Confirmations,
				Status:        req.Status,
				BlockHeight:   req.BlockHeight,
				BlockHash:     req.BlockHash,
				FirstSeen:     req.FirstSeen,
			},
		},
	}
	if err := d.queue.Insert(ctx, delivery); err != nil {
		return fmt.Errorf("%w: insert delivery: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// ProcessDue claims and attempts every delivery due now, up to BatchSize,
// and returns how many were attempted. Intended to be called on a
// ProcessingInterval ticker by the caller.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	due, err := d.queue.ListDue(ctx, time.Now(), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: list due: %v", model.ErrStoreUnavailable, err)
	}
	metrics.WebhookQueueDepth.WithLabelValues().Set(float64(len(due)))
	attempted := 0
	for _, delivery := range due {
		claimed, err := d.queue.MarkProcessing(ctx, delivery.ID)
		if err != nil {
			d.logger.Warn("webhook: claim failed", "delivery_id", delivery.ID, "error", err)
			continue
		}
		if !claimed {
			continue // another worker claimed it first
		}
		attempted++
		delivery.Attempts++ // mirrors the increment MarkProcessing just applied in the store
		d.attempt(ctx, delivery)
	}
	return attempted, nil
}

func (d *Dispatcher) attempt(ctx context.Context, delivery model.WebhookDelivery) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	status, excerpt, err := d.post(attemptCtx, delivery)
	metrics.WebhookDeliveryLatency.WithLabelValues().Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("completed").Inc()
		if markErr := d.queue.MarkCompleted(ctx, delivery.ID, status, time.Now()); markErr != nil {
			d.logger.Warn("webhook: mark completed failed", "delivery_id", delivery.ID, "error", markErr)
		}
		return
	}

	if delivery.Attempts >= d.cfg.MaxRetries {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		if markErr := d.queue.MarkFailed(ctx, delivery.ID, err.Error(), time.Now()); markErr != nil {
			d.logger.Warn("webhook: mark failed failed", "delivery_id", delivery.ID, "error", markErr)
		}
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("retry").Inc()

	delay := BackoffSchedule[len(BackoffSchedule)-1]
	if delivery.Attempts-1 < len(BackoffSchedule) && delivery.Attempts-1 >= 0 {
		delay = BackoffSchedule[delivery.Attempts-1]
	}
	next := time.Now().Add(delay)
	if markErr := d.queue.MarkRetry(ctx, delivery.ID, next, err.Error(), status, excerpt); markErr != nil {
		d.logger.Warn("webhook: mark retry failed", "delivery_id", delivery.ID, "error", markErr)
	}
}

func (d *Dispatcher) post(ctx context.Context, delivery model.WebhookDelivery) (int, string, error) {
	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerptLimit))
	excerpt := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, excerpt, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, excerpt, nil
}

// Cleanup purges terminal deliveries older than CleanupAfter, returning the
// number removed. Intended to run once daily.
func (d *Dispatcher) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-d.cfg.CleanupAfter)
	n, err := d.queue.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", model.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Run drives ProcessDue on ProcessingInterval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ProcessingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ProcessDue(ctx); err != nil {
				d.logger.Warn("webhook: process due failed", "error", err)
			}
		}
	}
}
