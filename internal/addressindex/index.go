// Package addressindex implements the in-process address membership set
// (C2): the hot-path filter every broadcast transaction's addresses pass
// through before the pipeline bothers looking at the store.
//
// The authoritative representation is an exact map kept under a
// sync.RWMutex: reads run concurrently on the intake hot path, writes are
// confined to the Control Surface's address add/remove handlers and the
// one-time startup load. A bloom filter may front the exact map as a
// cheap-rejection optimization, but it never substitutes for it — a
// positive bloom result always falls through to the exact check.
package addressindex

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
)

// Set is the exact, concurrency-safe address membership filter.
type Set struct {
	mu    sync.RWMutex
	exact map[string]struct{}
	bloom *BloomFilter // nil disables the pre-filter
}

// Option configures a Set.
type Option func(*Set)

// WithBloomPrefilter enables a bloom-filter fast-reject ahead of the exact
// map, sized for expectedItems at the given false-positive rate.
func WithBloomPrefilter(expectedItems int, fpr float64) Option {
	return func(s *Set) {
		s.bloom = NewBloomFilter(expectedItems, fpr)
	}
}

// New creates an empty membership set.
func New(opts ...Option) *Set {
	s := &Set{exact: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add inserts an address into the set.
func (s *Set) Add(addr string) {
	s.mu.Lock()
	s.exact[addr] = struct{}{}
	if s.bloom != nil {
		s.bloom.Add(addr)
	}
	s.mu.Unlock()
}

// AddMany bulk-inserts addresses, used by loadFromStore.
func (s *Set) AddMany(addrs []string) {
	s.mu.Lock()
	for _, a := range addrs {
		s.exact[a] = struct{}{}
		if s.bloom != nil {
			s.bloom.Add(a)
		}
	}
	s.mu.Unlock()
}

// Remove drops an address from the set. The bloom filter (if enabled) is
// left untouched — standard bloom filters do not support removal, so a
// stale bloom positive after removal simply falls through to the exact map,
// which is authoritative.
func (s *Set) Remove(addr string) {
	s.mu.Lock()
	delete(s.exact, addr)
	s.mu.Unlock()
}

// Contains reports exact membership. A false return is definitive; the
// caller never needs to re-verify against the store.
func (s *Set) Contains(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bloom != nil && !s.bloom.MayContain(addr) {
		return false
	}
	_, ok := s.exact[addr]
	return ok
}

// Filter returns the subset of addrs present in the set, preserving input
// order and de-duplicating.
func (s *Set) Filter(addrs []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if _, dup := seen[a]; dup {
			continue
		}
		if s.bloom != nil && !s.bloom.MayContain(a) {
			continue
		}
		if _, ok := s.exact[a]; ok {
			seen[a] = struct{}{}
			matched = append(matched, a)
		}
	}
	return matched
}

// Size returns the current number of tracked addresses.
func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact)
}

// LoadFromStore replaces the set's contents with every active watched
// address from the repository, run once at startup.
func (s *Set) LoadFromStore(ctx context.Context, repo store.WatchedAddressRepository) error {
	addrs, err := repo.ListActive(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.exact = make(map[string]struct{}, len(addrs))
	if s.bloom != nil {
		s.bloom = NewBloomFilter(len(addrs)+1, s.bloom.TargetFPR())
	}
	for _, a := range addrs {
		s.exact[a.Address] = struct{}{}
		if s.bloom != nil {
			s.bloom.Add(a.Address)
		}
	}
	s.mu.Unlock()
	return nil
}
