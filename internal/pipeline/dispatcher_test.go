package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kavascapital/marketfeed/internal/model"
)

// recordingSink captures events in arrival order.
type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) record(ev model.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Put(ev model.Event)     { s.record(ev) }
func (s *recordingSink) Add(ev model.Event)     { s.record(ev) }
func (s *recordingSink) Publish(ev model.Event) { s.record(ev) }

func (s *recordingSink) snapshot() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestDispatcher_DeliversInOrderToAllSinks(t *testing.T) {
	q := NewQueue[model.Event](4)
	cache := &recordingSink{}
	writer := &recordingSink{}
	hub := &recordingSink{}
	d := NewDispatcher(q, cache, writer, hub, nil)
	d.Start(context.Background())

	var want []int64
	for i := int64(0); i < 20; i++ {
		tick := &model.Tick{Token: 42, Seq: i, Timestamp: time.Now().UTC()}
		q.Push(model.TickEvent(tick))
		want = append(want, i)
	}
	q.Close()
	d.Wait()

	for name, sink := range map[string]*recordingSink{"cache": cache, "writer": writer, "hub": hub} {
		events := sink.snapshot()
		if len(events) != len(want) {
			t.Fatalf("%s received %d events, want %d", name, len(events), len(want))
		}
		for i, ev := range events {
			if ev.Tick.Seq != want[i] {
				t.Errorf("%s event %d seq = %d, want %d", name, i, ev.Tick.Seq, want[i])
			}
		}
	}
}

func TestDispatcher_NilSinksSkipped(t *testing.T) {
	q := NewQueue[model.Event](1)
	writer := &recordingSink{}
	d := NewDispatcher(q, nil, writer, nil, nil)
	d.Start(context.Background())

	q.Push(model.TickEvent(&model.Tick{Token: 1}))
	q.Close()
	d.Wait()

	if got := len(writer.snapshot()); got != 1 {
		t.Errorf("writer received %d events, want 1", got)
	}
}
