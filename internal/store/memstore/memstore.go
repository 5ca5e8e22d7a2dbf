// Package memstore provides in-memory implementations of the internal/store
// repository interfaces, used as test doubles throughout the pipeline
// packages in place of a running MongoDB instance.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// WatchedAddressStore is an in-memory store.WatchedAddressRepository.
type WatchedAddressStore struct {
	mu   sync.RWMutex
	data map[string]model.WatchedAddress
}

// NewWatchedAddressStore creates an empty store.
func NewWatchedAddressStore() *WatchedAddressStore {
	return &WatchedAddressStore{data: make(map[string]model.WatchedAddress)}
}

func (s *WatchedAddressStore) Upsert(ctx context.Context, addr *model.WatchedAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[addr.Address] = *addr
	return nil
}

func (s *WatchedAddressStore) FindByAddress(ctx context.Context, address string) (*model.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data[address]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *WatchedAddressStore) ListActive(ctx context.Context) ([]model.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WatchedAddress
	for _, a := range s.data {
		if a.Active {
			out = append(out, a)
		}
	}
	sortByAddress(out)
	return out, nil
}

func (s *WatchedAddressStore) ListPendingBackfill(ctx context.Context) ([]model.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WatchedAddress
	for _, a := range s.data {
		if a.Active && !a.HistoricalFetched {
			out = append(out, a)
		}
	}
	sortByAddress(out)
	return out, nil
}

func (s *WatchedAddressStore) MarkBackfilled(ctx context.Context, address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[address]
	if !ok {
		return model.ErrNotFound
	}
	a.HistoricalFetched = true
	a.HistoricalFetchedAt = &at
	s.data[address] = a
	return nil
}

func (s *WatchedAddressStore) RecordActivity(ctx context.Context, address string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[address]
	if !ok {
		return model.ErrNotFound
	}
	a.TransactionCount++
	a.LastActivity = &seenAt
	s.data[address] = a
	return nil
}

func (s *WatchedAddressStore) Deactivate(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[address]
	if !ok {
		return model.ErrNotFound
	}
	a.Active = false
	s.data[address] = a
	return nil
}

func (s *WatchedAddressStore) List(ctx context.Context, limit, offset int) ([]model.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]model.WatchedAddress, 0, len(s.data))
	for _, a := range s.data {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, limit, offset), nil
}

func (s *WatchedAddressStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

func sortByAddress(addrs []model.WatchedAddress) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Address < addrs[j].Address })
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// ActiveTransactionStore is an in-memory store.ActiveTransactionRepository.
type ActiveTransactionStore struct {
	mu   sync.RWMutex
	data map[string]model.ActiveTransaction
}

func NewActiveTransactionStore() *ActiveTransactionStore {
	return &ActiveTransactionStore{data: make(map[string]model.ActiveTransaction)}
}

func (s *ActiveTransactionStore) Upsert(ctx context.Context, tx *model.ActiveTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[tx.TxID]; ok {
		merged := existing
		merged.Addresses = unionAddresses(existing.Addresses, tx.Addresses)
		s.data[tx.TxID] = merged
		return nil
	}
	s.data[tx.TxID] = *tx
	return nil
}

func unionAddresses(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, addr := range append(append([]string{}, a...), b...) {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func (s *ActiveTransactionStore) FindByTxID(ctx context.Context, txID string) (*model.ActiveTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.data[txID]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (s *ActiveTransactionStore) ListByStatus(ctx context.Context, status model.TxStatus) ([]model.ActiveTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ActiveTransaction
	for _, tx := range s.data {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out, nil
}

func (s *ActiveTransactionStore) ListUnverifiedSince(ctx context.Context, cutoff time.Time) ([]model.ActiveTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ActiveTransaction
	for _, tx := range s.data {
		if tx.Status != model.TxStatusPending {
			continue
		}
		last := tx.FirstSeen
		if tx.LastVerified != nil {
			last = *tx.LastVerified
		}
		if last.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *ActiveTransactionStore) UpdateConfirmation(ctx context.Context, txID string, blockHeight int64, blockHash string, blockTime time.Time, confirmations int64, status model.TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.data[txID]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now()
	tx.BlockHeight = &blockHeight
	tx.BlockHash = &blockHash
	tx.BlockTime = &blockTime
	tx.Confirmations = confirmations
	tx.Status = status
	tx.LastVerified = &now
	s.data[txID] = tx
	return nil
}

func (s *ActiveTransactionStore) TouchVerified(ctx context.Context, txID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.data[txID]
	if !ok {
		return model.ErrNotFound
	}
	tx.LastVerified = &at
	s.data[txID] = tx
	return nil
}

func (s *ActiveTransactionStore) RevertToPending(ctx context.Context, txID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.data[txID]
	if !ok {
		return model.ErrNotFound
	}
	tx.Status = model.TxStatusPending
	tx.BlockHeight = nil
	tx.BlockHash = nil
	tx.BlockTime = nil
	tx.Confirmations = 0
	tx.LastVerified = &at
	s.data[txID] = tx
	return nil
}

func (s *ActiveTransactionStore) Delete(ctx context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, txID)
	return nil
}

func (s *ActiveTransactionStore) ListByAddress(ctx context.Context, address string, limit int) ([]model.ActiveTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ActiveTransaction
	for _, tx := range s.data {
		for _, a := range tx.Addresses {
			if a == address {
				out = append(out, tx)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	return paginate(out, limit, 0), nil
}

func (s *ActiveTransactionStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

// ArchivedTransactionStore is an in-memory store.ArchivedTransactionRepository.
type ArchivedTransactionStore struct {
	mu   sync.RWMutex
	data map[string]model.ArchivedTransaction
}

func NewArchivedTransactionStore() *ArchivedTransactionStore {
	return &ArchivedTransactionStore{data: make(map[string]model.ArchivedTransaction)}
}

func (s *ArchivedTransactionStore) Insert(ctx context.Context, tx *model.ArchivedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[tx.TxID]; exists {
		return nil
	}
	s.data[tx.TxID] = *tx
	return nil
}

func (s *ArchivedTransactionStore) FindByTxID(ctx context.Context, txID string) (*model.ArchivedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.data[txID]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (s *ArchivedTransactionStore) ListByAddress(ctx context.Context, address string, limit int) ([]model.ArchivedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ArchivedTransaction
	for _, tx := range s.data {
		for _, a := range tx.Addresses {
			if a == address {
				out = append(out, tx)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	return paginate(out, limit, 0), nil
}

// WebhookStore is an in-memory store.WebhookRepository.
type WebhookStore struct {
	mu   sync.RWMutex
	data map[string]model.Webhook
}

func NewWebhookStore() *WebhookStore {
	return &WebhookStore{data: make(map[string]model.Webhook)}
}

func (s *WebhookStore) Upsert(ctx context.Context, w *model.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.data[w.ID] = *w
	return nil
}

func (s *WebhookStore) FindByID(ctx context.Context, id string) (*model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.data[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *WebhookStore) ListActive(ctx context.Context) ([]model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Webhook
	for _, w := range s.data {
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *WebhookStore) List(ctx context.Context) ([]model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Webhook, 0, len(s.data))
	for _, w := range s.data {
		out = append(out, w)
	}
	return out, nil
}

func (s *WebhookStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data[id]
	if !ok {
		return model.ErrNotFound
	}
	w.Active = false
	s.data[id] = w
	return nil
}

func (s *WebhookStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data[id]
	if !ok {
		return model.ErrNotFound
	}
	w.TriggerCount++
	w.LastTriggered = &at
	s.data[id] = w
	return nil
}

// WebhookQueueStore is an in-memory store.WebhookQueueRepository.
type WebhookQueueStore struct {
	mu   sync.RWMutex
	data map[string]model.WebhookDelivery
}

func NewWebhookQueueStore() *WebhookQueueStore {
	return &WebhookQueueStore{data: make(map[string]model.WebhookDelivery)}
}

func (s *WebhookQueueStore) Insert(ctx context.Context, d *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.data[d.ID] = *d
	return nil
}

func (s *WebhookQueueStore) FindPending(ctx context.Context, webhookID, transactionID string) ([]model.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WebhookDelivery
	for _, d := range s.data {
		if d.WebhookID != webhookID || d.TransactionID == nil || *d.TransactionID != transactionID {
			continue
		}
		if d.Status == model.DeliveryStatusPending || d.Status == model.DeliveryStatusRetry {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *WebhookQueueStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WebhookDelivery
	for _, d := range s.data {
		if (d.Status == model.DeliveryStatusPending || d.Status == model.DeliveryStatusRetry) && !d.NextRetry.After(asOf) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetry.Before(out[j].NextRetry) })
	return paginate(out, limit, 0), nil
}

func (s *WebhookQueueStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if d.Status != model.DeliveryStatusPending && d.Status != model.DeliveryStatusRetry {
		return false, nil
	}
	now := time.Now()
	d.Status = model.DeliveryStatusProcessing
	d.LastAttempt = &now
	d.Attempts++
	s.data[id] = d
	return true, nil
}

func (s *WebhookQueueStore) MarkCompleted(ctx context.Context, id string, responseStatus int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = model.DeliveryStatusCompleted
	d.ResponseStatus = responseStatus
	d.CompletedAt = &at
	s.data[id] = d
	return nil
}

func (s *WebhookQueueStore) MarkRetry(ctx context.Context, id string, nextRetry time.Time, lastError string, responseStatus int, responseExcerpt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = model.DeliveryStatusRetry
	d.NextRetry = nextRetry
	d.LastError = lastError
	d.ResponseStatus = responseStatus
	d.ResponseExcerpt = responseExcerpt
	s.data[id] = d
	return nil
}

func (s *WebhookQueueStore) MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = model.DeliveryStatusFailed
	d.LastError = lastError
	d.FailedAt = &at
	s.data[id] = d
	return nil
}

func (s *WebhookQueueStore) Cancel(ctx context.Context, id string, reason model.CancelReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = model.DeliveryStatusCancelled
	d.CancelReason = reason
	s.data[id] = d
	return nil
}

func (s *WebhookQueueStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.data {
		if !d.Status.IsTerminal() {
			continue
		}
		ts := terminalTimestamp(d)
		if ts != nil && ts.Before(cutoff) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

func terminalTimestamp(d model.WebhookDelivery) *time.Time {
	switch d.Status {
	case model.DeliveryStatusCompleted:
		return d.CompletedAt
	case model.DeliveryStatusFailed:
		return d.FailedAt
	default:
		return &d.CreatedAt
	}
}

func (s *WebhookQueueStore) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WebhookDelivery
	for _, d := range s.data {
		if d.WebhookID == webhookID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}
