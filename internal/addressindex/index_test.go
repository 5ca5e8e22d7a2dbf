package addressindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

func TestSet_AddContainsRemove(t *testing.T) {
	s := New()

	assert.False(t, s.Contains("addr1"))

	s.Add("addr1")
	assert.True(t, s.Contains("addr1"))
	assert.Equal(t, 1, s.Size())

	s.Remove("addr1")
	assert.False(t, s.Contains("addr1"))
	assert.Equal(t, 0, s.Size())
}

func TestSet_Filter_PreservesOrderAndDeduplicates(t *testing.T) {
	s := New()
	s.AddMany([]string{"a", "b", "c"})

	matched := s.Filter([]string{"x", "a", "b", "a", "z", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, matched)
}

func TestSet_Filter_EmptyWhenNoneMatch(t *testing.T) {
	s := New()
	s.AddMany([]string{"a", "b"})

	matched := s.Filter([]string{"x", "y"})
	assert.Empty(t, matched)
}

func TestSet_WithBloomPrefilter_StillExact(t *testing.T) {
	s := New(WithBloomPrefilter(16, 0.01))
	s.Add("addr1")

	assert.True(t, s.Contains("addr1"))
	assert.False(t, s.Contains("never-added"))
}

// stubWatchedAddressRepo satisfies store.WatchedAddressRepository with only
// ListActive wired; every other method is unused by LoadFromStore.
type stubWatchedAddressRepo struct {
	active []model.WatchedAddress
}

func (s *stubWatchedAddressRepo) Upsert(ctx context.Context, addr *model.WatchedAddress) error {
	return nil
}
func (s *stubWatchedAddressRepo) FindByAddress(ctx context.Context, address string) (*model.WatchedAddress, error) {
	return nil, nil
}
func (s *stubWatchedAddressRepo) ListActive(ctx context.Context) ([]model.WatchedAddress, error) {
	return s.active, nil
}
func (s *stubWatchedAddressRepo) ListPendingBackfill(ctx context.Context) ([]model.WatchedAddress, error) {
	return nil, nil
}
func (s *stubWatchedAddressRepo) MarkBackfilled(ctx context.Context, address string, at time.Time) error {
	return nil
}
func (s *stubWatchedAddressRepo) RecordActivity(ctx context.Context, address string, seenAt time.Time) error {
	return nil
}
func (s *stubWatchedAddressRepo) Deactivate(ctx context.Context, address string) error { return nil }
func (s *stubWatchedAddressRepo) List(ctx context.Context, limit, offset int) ([]model.WatchedAddress, error) {
	return nil, nil
}
func (s *stubWatchedAddressRepo) Count(ctx context.Context) (int64, error) { return 0, nil }

func TestSet_LoadFromStore_ReplacesContents(t *testing.T) {
	repo := &stubWatchedAddressRepo{
		active: []model.WatchedAddress{{Address: "a"}, {Address: "b"}},
	}
	s := New()
	s.Add("stale")

	require.NoError(t, s.LoadFromStore(context.Background(), repo))

	assert.False(t, s.Contains("stale"))
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
}
