package subs

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kavascapital/marketfeed/internal/model"
)

// ErrUnknownSubscriber is returned for operations on an unregistered ID.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// TokenMode pairs an instrument with its effective upstream mode.
type TokenMode struct {
	Token model.InstrumentToken
	Mode  model.Mode
}

// Delta is the minimal set of upstream calls needed after a registry
// mutation. Subscribe lists instruments newly needed by anyone, Unsubscribe
// lists instruments no longer needed by anyone, and ModeChanges lists
// already-subscribed instruments whose effective mode moved.
type Delta struct {
	Subscribe   []TokenMode
	Unsubscribe []model.InstrumentToken
	ModeChanges []TokenMode
}

// Empty reports whether the delta requires no upstream calls.
func (d Delta) Empty() bool {
	return len(d.Subscribe) == 0 && len(d.Unsubscribe) == 0 && len(d.ModeChanges) == 0
}

// Match pairs a subscriber with the mode it requested for an instrument.
type Match struct {
	ID   uuid.UUID
	Mode model.Mode
}

// tokenState tracks aggregate interest in one instrument.
type tokenState struct {
	refs      int
	modeCount [model.ModeFull + 1]int
}

func (s *tokenState) max() model.Mode {
	for m := model.ModeFull; m >= model.ModeLTP; m-- {
		if s.modeCount[m] > 0 {
			return m
		}
	}
	return 0
}

// Registry is the shared subscription state. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[model.InstrumentToken]model.Mode
	tokens  map[model.InstrumentToken]*tokenState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]map[model.InstrumentToken]model.Mode),
		tokens:  make(map[model.InstrumentToken]*tokenState),
	}
}

// Register creates an empty entry for a subscriber. Registering an existing
// ID is a no-op.
func (r *Registry) Register(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		r.entries[id] = make(map[model.InstrumentToken]model.Mode)
	}
}

// Update merges the subscriber's desired instrument modes and returns the
// upstream delta versus the previous aggregate.
func (r *Registry) Update(id uuid.UUID, modes map[model.InstrumentToken]model.Mode) (Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return Delta{}, ErrUnknownSubscriber
	}

	var d Delta
	for token, mode := range modes {
		st := r.tokens[token]
		if st == nil {
			st = &tokenState{}
			r.tokens[token] = st
		}
		before := st.max()

		if prev, had := entry[token]; had {
			if prev == mode {
				continue
			}
			st.modeCount[prev]--
		} else {
			st.refs++
		}
		entry[token] = mode
		st.modeCount[mode]++

		after := st.max()
		switch {
		case before == 0:
			d.Subscribe = append(d.Subscribe, TokenMode{Token: token, Mode: after})
		case after != before:
			d.ModeChanges = append(d.ModeChanges, TokenMode{Token: token, Mode: after})
		}
	}

	sortDelta(&d)
	return d, nil
}

// Remove drops specific instruments from a subscriber's entry and returns
// the upstream delta.
func (r *Registry) Remove(id uuid.UUID, tokens []model.InstrumentToken) (Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return Delta{}, ErrUnknownSubscriber
	}

	var d Delta
	for _, token := range tokens {
		mode, had := entry[token]
		if !had {
			continue
		}
		delete(entry, token)
		r.releaseLocked(token, mode, &d)
	}

	sortDelta(&d)
	return d, nil
}

// Unregister removes a subscriber entirely and returns the instruments no
// remaining subscriber needs. Unknown IDs yield an empty delta; disconnect
// paths may race with registration and must not fail.
func (r *Registry) Unregister(id uuid.UUID) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return Delta{}
	}
	delete(r.entries, id)

	var d Delta
	for token, mode := range entry {
		r.releaseLocked(token, mode, &d)
	}

	sortDelta(&d)
	return d
}

// releaseLocked drops one subscriber's interest in token and records the
// resulting upstream call, if any, on d. Caller holds r.mu.
func (r *Registry) releaseLocked(token model.InstrumentToken, mode model.Mode, d *Delta) {
	st := r.tokens[token]
	if st == nil {
		return
	}
	before := st.max()
	st.modeCount[mode]--
	st.refs--

	if st.refs <= 0 {
		delete(r.tokens, token)
		d.Unsubscribe = append(d.Unsubscribe, token)
		return
	}
	if after := st.max(); after != before {
		d.ModeChanges = append(d.ModeChanges, TokenMode{Token: token, Mode: after})
	}
}

// SubscribersFor returns every live subscriber interested in the instrument,
// with the mode each requested. Reflects the most recent mutation.
func (r *Registry) SubscribersFor(token model.InstrumentToken) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Match
	for id, entry := range r.entries {
		if mode, ok := entry[token]; ok {
			out = append(out, Match{ID: id, Mode: mode})
		}
	}
	return out
}

// Aggregate returns the union of all entries' instruments with their
// effective (max requested) modes, sorted by token for stable upstream
// batching.
func (r *Registry) Aggregate() []TokenMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TokenMode, 0, len(r.tokens))
	for token, st := range r.tokens {
		out = append(out, TokenMode{Token: token, Mode: st.max()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// ActiveTokens returns the aggregate instrument set without modes.
func (r *Registry) ActiveTokens() []model.InstrumentToken {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.InstrumentToken, 0, len(r.tokens))
	for token := range r.tokens {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns current registry counters.
func (r *Registry) Stats() (subscribers, instruments int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), len(r.tokens)
}

func sortDelta(d *Delta) {
	sort.Slice(d.Subscribe, func(i, j int) bool { return d.Subscribe[i].Token < d.Subscribe[j].Token })
	sort.Slice(d.Unsubscribe, func(i, j int) bool { return d.Unsubscribe[i] < d.Unsubscribe[j] })
	sort.Slice(d.ModeChanges, func(i, j int) bool { return d.ModeChanges[i].Token < d.ModeChanges[j].Token })
}
