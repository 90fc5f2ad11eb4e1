package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kavascapital/marketfeed/internal/model"
	"github.com/kavascapital/marketfeed/internal/subs"
)

// DeltaSink receives upstream subscription deltas produced when the hub
// drops a subscriber. The feed connector implements it.
type DeltaSink interface {
	ApplyDelta(d subs.Delta) error
}

// Config holds broadcaster settings.
type Config struct {
	SendTimeout time.Duration // Max wait per subscriber before dropping it.
	BufferSize  int           // Outbound channel depth per subscriber.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendTimeout: 100 * time.Millisecond,
		BufferSize:  256,
	}
}

// Stats counts broadcaster activity.
type Stats struct {
	Published   int64
	Delivered   int64
	Dropped     int64
	Subscribers int
}

// Subscription is a cancellable handle to a subscriber's outbound stream.
type Subscription struct {
	ID  uuid.UUID
	ch  chan model.Event
	hub *Hub

	// mu orders sends against close: a cancel may race a publish.
	mu     sync.Mutex
	closed bool
}

// C returns the outbound event channel. It is closed when the subscription
// is dropped or cancelled.
func (s *Subscription) C() <-chan model.Event {
	return s.ch
}

// send delivers ev unless the subscription is already closed. The second
// result reports a timeout on a full buffer.
func (s *Subscription) send(ev model.Event, timeout time.Duration) (delivered, timedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, false
	}
	select {
	case s.ch <- ev:
		return true, false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true, false
	case <-timer.C:
		return false, true
	}
}

// Cancel detaches the subscriber, closes the channel, removes its registry
// entry and forwards the resulting upstream delta. Safe to call more than
// once and concurrently with Publish.
func (s *Subscription) Cancel() {
	s.hub.drop(s.ID, "cancelled")
}

// Hub is the fan-out broadcaster.
type Hub struct {
	cfg      Config
	registry *subs.Registry
	deltas   DeltaSink
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID]*Subscription

	statsMu sync.Mutex
	stats   Stats
}

// New creates a hub over the given registry. deltas may be nil when no
// upstream propagation is wanted (tests).
func New(cfg Config, registry *subs.Registry, deltas DeltaSink, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	return &Hub{
		cfg:         cfg,
		registry:    registry,
		deltas:      deltas,
		logger:      logger,
		subscribers: make(map[uuid.UUID]*Subscription),
	}
}

// Attach registers a subscriber and returns its subscription handle.
func (h *Hub) Attach(id uuid.UUID) *Subscription {
	sub := &Subscription{
		ID:  id,
		ch:  make(chan model.Event, h.cfg.BufferSize),
		hub: h,
	}

	h.registry.Register(id)

	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber attached", "subscriber", id)
	return sub
}

// Publish delivers the event to every subscriber whose registry entry
// matches its instrument. Depth goes only to full-mode subscribers. A
// delivery failure drops that subscriber and no one else.
func (h *Hub) Publish(ev model.Event) {
	matches := h.registry.SubscribersFor(ev.Token)

	h.statsMu.Lock()
	h.stats.Published++
	h.statsMu.Unlock()

	if len(matches) == 0 {
		return
	}

	for _, m := range matches {
		if ev.Type == model.EventDepth && !m.Mode.Includes(model.ModeFull) {
			continue
		}

		h.mu.Lock()
		sub, ok := h.subscribers[m.ID]
		h.mu.Unlock()
		if !ok {
			// Registry entry without a live channel: clean it up.
			h.drop(m.ID, "no outbound channel")
			continue
		}

		delivered, timedOut := sub.send(ev, h.cfg.SendTimeout)
		switch {
		case delivered:
			h.statsMu.Lock()
			h.stats.Delivered++
			h.statsMu.Unlock()
		case timedOut:
			h.drop(m.ID, "send timeout")
		}
	}
}

// Close cancels every subscription. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]uuid.UUID, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.drop(id, "shutdown")
	}
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.statsMu.Lock()
	s := h.stats
	h.statsMu.Unlock()

	h.mu.Lock()
	s.Subscribers = len(h.subscribers)
	h.mu.Unlock()
	return s
}

// drop removes a subscriber everywhere: outbound channel, registry entry,
// upstream delta.
func (h *Hub) drop(id uuid.UUID, reason string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if sub != nil {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}

	delta := h.registry.Unregister(id)
	if !delta.Empty() && h.deltas != nil {
		if err := h.deltas.ApplyDelta(delta); err != nil {
			h.logger.Warn("delta forward failed", "subscriber", id, "error", err)
		}
	}

	if ok {
		h.statsMu.Lock()
		h.stats.Dropped++
		h.statsMu.Unlock()
		h.logger.Info("subscriber dropped", "subscriber", id, "reason", reason)
	}
}
