package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kavascapital/marketfeed/internal/model"
)

// FallbackStore serves reads the cache cannot: misses and expired entries.
type FallbackStore interface {
	LatestTick(ctx context.Context, token model.InstrumentToken) (*model.Tick, error)
	LatestDepth(ctx context.Context, token model.InstrumentToken) (*model.DepthSnapshot, error)
}

// Config holds hot cache settings.
type Config struct {
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute}
}

// Stats counts cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Expiries  int64
	Fallbacks int64
	Entries   int
}

type tickEntry struct {
	tick     *model.Tick
	storedAt time.Time
}

type depthEntry struct {
	depth    *model.DepthSnapshot
	storedAt time.Time
}

// Cache is the per-instrument last-value store. Safe for concurrent use.
type Cache struct {
	cfg    Config
	store  FallbackStore
	logger *slog.Logger

	// now is split out so TTL behavior is testable.
	now func() time.Time

	mu     sync.RWMutex
	ticks  map[model.InstrumentToken]tickEntry
	depths map[model.InstrumentToken]depthEntry
	stats  Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache backed by the given fallback store. A nil store is
// allowed; misses and expired entries then return no data.
func New(cfg Config, store FallbackStore, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Cache{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		ticks:  make(map[model.InstrumentToken]tickEntry),
		depths: make(map[model.InstrumentToken]depthEntry),
	}
}

// Start launches the expiry sweeper.
func (c *Cache) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweepLoop()
	}()
}

// Stop halts the sweeper.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Put records the latest value for the event's instrument. Non-market events
// are ignored.
func (c *Cache) Put(ev model.Event) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case model.EventTick:
		c.ticks[ev.Token] = tickEntry{tick: ev.Tick, storedAt: now}
	case model.EventDepth:
		c.depths[ev.Token] = depthEntry{depth: ev.Depth, storedAt: now}
	}
}

// LatestTick returns the most recent tick for the instrument. An expired or
// missing entry falls through to the durable store; a nil result with nil
// error means no data exists anywhere yet.
func (c *Cache) LatestTick(ctx context.Context, token model.InstrumentToken) (*model.Tick, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.ticks[token]
	fresh := ok && now.Sub(entry.storedAt) <= c.cfg.TTL
	switch {
	case fresh:
		c.stats.Hits++
	case ok:
		c.stats.Expiries++
		delete(c.ticks, token)
	default:
		c.stats.Misses++
	}
	if fresh {
		c.mu.Unlock()
		return entry.tick, nil
	}
	c.stats.Fallbacks++
	c.mu.Unlock()

	if c.store == nil {
		return nil, nil
	}
	return c.store.LatestTick(ctx, token)
}

// LatestDepth is LatestTick for depth snapshots.
func (c *Cache) LatestDepth(ctx context.Context, token model.InstrumentToken) (*model.DepthSnapshot, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.depths[token]
	fresh := ok && now.Sub(entry.storedAt) <= c.cfg.TTL
	switch {
	case fresh:
		c.stats.Hits++
	case ok:
		c.stats.Expiries++
		delete(c.depths, token)
	default:
		c.stats.Misses++
	}
	if fresh {
		c.mu.Unlock()
		return entry.depth, nil
	}
	c.stats.Fallbacks++
	c.mu.Unlock()

	if c.store == nil {
		return nil, nil
	}
	return c.store.LatestDepth(ctx, token)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.ticks) + len(c.depths)
	return s
}

// sweepLoop evicts expired entries so a stalled feed does not pin memory.
func (c *Cache) sweepLoop() {
	interval := c.cfg.TTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for token, entry := range c.ticks {
		if now.Sub(entry.storedAt) > c.cfg.TTL {
			delete(c.ticks, token)
			removed++
		}
	}
	for token, entry := range c.depths {
		if now.Sub(entry.storedAt) > c.cfg.TTL {
			delete(c.depths, token)
			removed++
		}
	}
	if removed > 0 {
		c.stats.Expiries += int64(removed)
		c.logger.Debug("cache sweep", "removed", removed)
	}
}
