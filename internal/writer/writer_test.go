package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kavascapital/marketfeed/internal/model"
)

// fakeStore dedups on (token, timestamp) like the real schema and can be
// told to fail.
type fakeStore struct {
	mu      sync.Mutex
	ticks   map[string]model.Tick
	flushes []int
	fail    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{ticks: make(map[string]model.Tick)}
}

func (s *fakeStore) InsertTicks(ctx context.Context, ticks []model.Tick) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return 0, errors.New("store unavailable")
	}
	conflicts := 0
	for _, t := range ticks {
		key := fmt.Sprintf("%d/%d", t.Token, t.Timestamp.UnixNano())
		if _, ok := s.ticks[key]; ok {
			conflicts++
			continue
		}
		s.ticks[key] = t
	}
	s.flushes = append(s.flushes, len(ticks))
	return conflicts, nil
}

func (s *fakeStore) InsertDepth(ctx context.Context, depths []model.DepthSnapshot) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("store unavailable")
	}
	return 0, nil
}

func (s *fakeStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func tickAt(token model.InstrumentToken, ts time.Time, seq int64) model.Event {
	return model.TickEvent(&model.Tick{Token: token, Timestamp: ts, Seq: seq})
}

func TestWriter_SizeThreshold(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: time.Hour}, store, nil)

	base := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 1500; i++ {
		w.Add(tickAt(1, base.Add(time.Duration(i)*time.Millisecond), int64(i)))
	}

	// Exactly one size-triggered flush of 1000 so far.
	store.mu.Lock()
	flushes := append([]int(nil), store.flushes...)
	store.mu.Unlock()
	if len(flushes) != 1 || flushes[0] != 1000 {
		t.Fatalf("flushes = %v, want [1000]", flushes)
	}

	// The next trigger picks up the remaining 500.
	w.Flush(context.Background())
	store.mu.Lock()
	flushes = append([]int(nil), store.flushes...)
	store.mu.Unlock()
	if len(flushes) != 2 || flushes[1] != 500 {
		t.Fatalf("flushes = %v, want [1000 500]", flushes)
	}

	stats := w.Stats()
	if stats.Inserts != 1500 || stats.Flushes != 2 || stats.Buffered != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriter_DuplicateKeysAcrossBatches(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: time.Hour}, store, nil)

	ts := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	w.Add(tickAt(42, ts, 1))
	w.Flush(context.Background())

	// Upstream redelivery: same (token, timestamp) in a later batch.
	w.Add(tickAt(42, ts, 2))
	w.Flush(context.Background())

	if len(store.ticks) != 1 {
		t.Errorf("store holds %d records, want 1", len(store.ticks))
	}
	stats := w.Stats()
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0: duplicates are not failures", stats.Errors)
	}
}

func TestWriter_RetainsBatchOnFailure(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: time.Hour, RetryCap: 2}, store, nil)

	base := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	w.Add(tickAt(1, base, 1))
	w.Add(tickAt(1, base.Add(time.Millisecond), 2))

	store.setFail(true)
	w.Flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 || stats.Buffered != 2 {
		t.Fatalf("after failed flush stats = %+v, want buffered=2", stats)
	}
	if stats.SustainedFailure {
		t.Error("SustainedFailure set after a single failure")
	}

	// Second failure crosses the retry cap.
	w.Flush(context.Background())
	if !w.Stats().SustainedFailure {
		t.Error("SustainedFailure not set after hitting retry cap")
	}

	// Recovery: retained records flush intact and in order.
	store.setFail(false)
	w.Flush(context.Background())

	stats = w.Stats()
	if stats.Buffered != 0 || stats.Inserts != 2 {
		t.Errorf("after recovery stats = %+v", stats)
	}
	if stats.SustainedFailure {
		t.Error("SustainedFailure not cleared after successful flush")
	}
	if len(store.ticks) != 2 {
		t.Errorf("store holds %d records, want 2", len(store.ticks))
	}
}

func TestWriter_FailureRetainsOrderAheadOfNewAppends(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: time.Hour}, store, nil)

	base := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	w.Add(tickAt(1, base, 1))
	store.setFail(true)
	w.Flush(context.Background())

	w.Add(tickAt(1, base.Add(time.Second), 2))
	store.setFail(false)
	w.Flush(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.flushes) != 1 || store.flushes[0] != 2 {
		t.Errorf("recovery flush sizes = %v, want [2]", store.flushes)
	}
}

func TestWriter_FlushSurvivesRunContextCancel(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 2, MaxAge: time.Hour}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	// A size-triggered flush during shutdown drain must still reach the
	// store, not fail with the cancelled run context.
	base := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	w.Add(tickAt(1, base, 1))
	w.Add(tickAt(1, base.Add(time.Millisecond), 2))

	stats := w.Stats()
	if stats.Errors != 0 {
		t.Errorf("Errors = %d after post-cancel flush, want 0", stats.Errors)
	}
	if len(store.ticks) != 2 {
		t.Errorf("store holds %d records, want 2", len(store.ticks))
	}
	w.Stop()
}

func TestWriter_AgeThreshold(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: 50 * time.Millisecond}, store, nil)
	w.Start(context.Background())
	defer w.Stop()

	w.Add(tickAt(9, time.Now().UTC(), 1))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Stats().Flushes >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("age-based flush never fired")
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: time.Hour}, store, nil)
	w.Start(context.Background())

	w.Add(tickAt(3, time.Now().UTC(), 1))
	w.Stop()

	if len(store.ticks) != 1 {
		t.Errorf("store holds %d records after Stop, want 1", len(store.ticks))
	}
}

func TestWriter_IgnoresCandleEvents(t *testing.T) {
	store := newFakeStore()
	w := New(Config{BatchSize: 1000, MaxAge: time.Hour}, store, nil)

	w.Add(model.CandleEvent(&model.Candle{Token: 1, Interval: model.Interval1Min}))
	if got := w.Stats().Buffered; got != 0 {
		t.Errorf("Buffered = %d after candle event, want 0", got)
	}
}
