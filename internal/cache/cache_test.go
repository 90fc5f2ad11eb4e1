package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kavascapital/marketfeed/internal/model"
)

// fakeStore is an in-memory FallbackStore recording lookups.
type fakeStore struct {
	ticks   map[model.InstrumentToken]*model.Tick
	depths  map[model.InstrumentToken]*model.DepthSnapshot
	lookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ticks:  make(map[model.InstrumentToken]*model.Tick),
		depths: make(map[model.InstrumentToken]*model.DepthSnapshot),
	}
}

func (s *fakeStore) LatestTick(_ context.Context, token model.InstrumentToken) (*model.Tick, error) {
	s.lookups++
	return s.ticks[token], nil
}

func (s *fakeStore) LatestDepth(_ context.Context, token model.InstrumentToken) (*model.DepthSnapshot, error) {
	s.lookups++
	return s.depths[token], nil
}

func newTestCache(store FallbackStore) (*Cache, *time.Time) {
	c := New(Config{TTL: 300 * time.Second}, store, nil)
	now := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_HitWithinTTL(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCache(store)

	tick := &model.Tick{Token: 42}
	c.Put(model.TickEvent(tick))

	got, err := c.LatestTick(context.Background(), 42)
	if err != nil {
		t.Fatalf("LatestTick() error: %v", err)
	}
	if got != tick {
		t.Errorf("LatestTick() = %+v, want cached tick", got)
	}
	if store.lookups != 0 {
		t.Errorf("store consulted %d times on a cache hit", store.lookups)
	}
}

func TestCache_TTLExpiryFallsThroughToStore(t *testing.T) {
	store := newFakeStore()
	c, now := newTestCache(store)

	liveTick := &model.Tick{Token: 42, Volume: 1}
	storedTick := &model.Tick{Token: 42, Volume: 2}
	store.ticks[42] = storedTick
	c.Put(model.TickEvent(liveTick))

	// 301s after insert with a 300s TTL the entry must be gone and the read
	// must come from the durable store.
	*now = now.Add(301 * time.Second)

	got, err := c.LatestTick(context.Background(), 42)
	if err != nil {
		t.Fatalf("LatestTick() error: %v", err)
	}
	if got != storedTick {
		t.Errorf("LatestTick() = %+v, want store value", got)
	}
	if store.lookups != 1 {
		t.Errorf("store lookups = %d, want 1", store.lookups)
	}

	stats := c.Stats()
	if stats.Expiries != 1 || stats.Fallbacks != 1 {
		t.Errorf("stats = %+v, want 1 expiry and 1 fallback", stats)
	}
}

func TestCache_MissFallsThroughToStore(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCache(store)

	got, err := c.LatestTick(context.Background(), 99)
	if err != nil {
		t.Fatalf("LatestTick() error: %v", err)
	}
	if got != nil {
		t.Errorf("LatestTick() = %+v, want nil for unknown instrument", got)
	}
	if store.lookups != 1 {
		t.Errorf("store lookups = %d, want 1", store.lookups)
	}
}

func TestCache_Depth(t *testing.T) {
	store := newFakeStore()
	c, now := newTestCache(store)

	depth := &model.DepthSnapshot{Token: 7}
	c.Put(model.DepthEvent(depth))

	got, err := c.LatestDepth(context.Background(), 7)
	if err != nil {
		t.Fatalf("LatestDepth() error: %v", err)
	}
	if got != depth {
		t.Errorf("LatestDepth() = %+v, want cached snapshot", got)
	}

	*now = now.Add(301 * time.Second)
	got, _ = c.LatestDepth(context.Background(), 7)
	if got != nil {
		t.Errorf("LatestDepth() after TTL = %+v, want nil", got)
	}
}

func TestCache_SweepEvictsExpired(t *testing.T) {
	store := newFakeStore()
	c, now := newTestCache(store)

	c.Put(model.TickEvent(&model.Tick{Token: 1}))
	c.Put(model.TickEvent(&model.Tick{Token: 2}))
	*now = now.Add(150 * time.Second)
	c.Put(model.TickEvent(&model.Tick{Token: 3}))

	*now = now.Add(200 * time.Second)
	c.sweep()

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("Entries = %d after sweep, want 1 (only token 3 fresh)", stats.Entries)
	}
	if stats.Expiries != 2 {
		t.Errorf("Expiries = %d, want 2", stats.Expiries)
	}
}

func TestCache_NilFallbackStore(t *testing.T) {
	c := New(Config{TTL: 300 * time.Second}, nil, nil)

	tick := &model.Tick{Token: 42}
	c.Put(model.TickEvent(tick))

	got, err := c.LatestTick(context.Background(), 42)
	if err != nil || got != tick {
		t.Errorf("LatestTick() = %+v, %v, want cached tick", got, err)
	}

	// Misses without a store report no data instead of panicking.
	got, err = c.LatestTick(context.Background(), 99)
	if err != nil || got != nil {
		t.Errorf("LatestTick(miss) = %+v, %v, want nil, nil", got, err)
	}
	depth, err := c.LatestDepth(context.Background(), 99)
	if err != nil || depth != nil {
		t.Errorf("LatestDepth(miss) = %+v, %v, want nil, nil", depth, err)
	}
}

func TestCache_PutReplacesPrevious(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCache(store)

	first := &model.Tick{Token: 5, Volume: 1}
	second := &model.Tick{Token: 5, Volume: 2}
	c.Put(model.TickEvent(first))
	c.Put(model.TickEvent(second))

	got, _ := c.LatestTick(context.Background(), 5)
	if got != second {
		t.Errorf("LatestTick() = %+v, want most recent put", got)
	}
}
