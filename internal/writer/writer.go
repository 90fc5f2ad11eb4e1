package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kavascapital/marketfeed/internal/model"
)

// flushTimeout caps one store round trip.
const flushTimeout = 15 * time.Second

// Store is the durable sink. Implementations must treat duplicate
// (instrument, timestamp) keys as silent conflicts, not errors.
type Store interface {
	InsertTicks(ctx context.Context, ticks []model.Tick) (conflicts int, err error)
	InsertDepth(ctx context.Context, depths []model.DepthSnapshot) (conflicts int, err error)
}

// Config holds batch writer settings.
type Config struct {
	BatchSize int           // Flush when this many records are buffered.
	MaxAge    time.Duration // Flush when the oldest buffered record is this old.
	RetryCap  int           // Consecutive failures before sustained-failure is flagged.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize: 1000,
		MaxAge:    time.Second,
		RetryCap:  5,
	}
}

// Stats counts writer activity. SustainedFailure is set once consecutive
// flush failures pass the retry cap and clears on the next success.
type Stats struct {
	Inserts          int64
	Conflicts        int64
	Flushes          int64
	Errors           int64
	Buffered         int
	ConsecutiveFails int
	SustainedFailure bool
}

// Writer buffers ticks and depth snapshots and flushes them in batches.
type Writer struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	now func() time.Time

	// bufMu guards the append side; flushMu serializes flushes so a batch is
	// never taken twice.
	bufMu  sync.Mutex
	ticks  []model.Tick
	depths []model.DepthSnapshot
	oldest time.Time

	flushMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a batch writer over the given store.
func New(cfg Config, store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.RetryCap < 1 {
		cfg.RetryCap = def.RetryCap
	}
	return &Writer{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		ticks:  make([]model.Tick, 0, cfg.BatchSize),
	}
}

// Start launches the age-based flush loop.
func (w *Writer) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.flushLoop()
	}()
	w.logger.Info("batch writer started",
		"batch_size", w.cfg.BatchSize,
		"max_age", w.cfg.MaxAge,
	)
}

// Stop halts the flush loop and performs one final best-effort flush.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.Flush(context.Background())
	w.logger.Info("batch writer stopped")
}

// Add buffers one event. Candle events are persisted by the aggregator and
// ignored here.
func (w *Writer) Add(ev model.Event) {
	w.bufMu.Lock()
	switch ev.Type {
	case model.EventTick:
		w.ticks = append(w.ticks, *ev.Tick)
	case model.EventDepth:
		w.depths = append(w.depths, *ev.Depth)
	default:
		w.bufMu.Unlock()
		return
	}
	if w.oldest.IsZero() {
		w.oldest = w.now()
	}
	full := len(w.ticks)+len(w.depths) >= w.cfg.BatchSize
	w.bufMu.Unlock()

	if full {
		ctx, cancel := w.flushCtx()
		w.Flush(ctx)
		cancel()
	}
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	s := w.stats
	w.statsMu.Unlock()

	w.bufMu.Lock()
	s.Buffered = len(w.ticks) + len(w.depths)
	w.bufMu.Unlock()
	return s
}

// Flush writes the current batch. On failure the batch is retained, in
// order, ahead of anything appended meanwhile, and retried on the next
// trigger.
func (w *Writer) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.bufMu.Lock()
	if len(w.ticks) == 0 && len(w.depths) == 0 {
		w.bufMu.Unlock()
		return
	}
	ticks := w.ticks
	depths := w.depths
	w.ticks = make([]model.Tick, 0, w.cfg.BatchSize)
	w.depths = nil
	w.oldest = time.Time{}
	w.bufMu.Unlock()

	start := w.now()
	conflicts, err := w.write(ctx, ticks, depths)
	if err != nil {
		w.retain(ticks, depths)
		w.recordFailure(err, len(ticks)+len(depths))
		return
	}

	w.statsMu.Lock()
	w.stats.Inserts += int64(len(ticks) + len(depths) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.stats.ConsecutiveFails = 0
	w.stats.SustainedFailure = false
	w.statsMu.Unlock()

	w.logger.Debug("flushed batch",
		"ticks", len(ticks),
		"depths", len(depths),
		"conflicts", conflicts,
		"duration", w.now().Sub(start),
	)
}

func (w *Writer) write(ctx context.Context, ticks []model.Tick, depths []model.DepthSnapshot) (conflicts int, err error) {
	if len(ticks) > 0 {
		c, err := w.store.InsertTicks(ctx, ticks)
		if err != nil {
			return 0, err
		}
		conflicts += c
	}
	if len(depths) > 0 {
		c, err := w.store.InsertDepth(ctx, depths)
		if err != nil {
			return conflicts, err
		}
		conflicts += c
	}
	return conflicts, nil
}

// retain puts a failed batch back at the front of the buffer.
func (w *Writer) retain(ticks []model.Tick, depths []model.DepthSnapshot) {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	w.ticks = append(ticks, w.ticks...)
	w.depths = append(depths, w.depths...)
	if w.oldest.IsZero() {
		w.oldest = w.now()
	}
}

func (w *Writer) recordFailure(err error, size int) {
	w.statsMu.Lock()
	w.stats.Errors++
	w.stats.ConsecutiveFails++
	sustained := w.stats.ConsecutiveFails >= w.cfg.RetryCap
	w.stats.SustainedFailure = sustained
	fails := w.stats.ConsecutiveFails
	w.statsMu.Unlock()

	if sustained {
		w.logger.Error("sustained flush failure, batch retained",
			"error", err,
			"consecutive_failures", fails,
			"records", size,
		)
	} else {
		w.logger.Warn("flush failed, batch retained",
			"error", err,
			"records", size,
		)
	}
}

// flushLoop fires the age threshold. It polls at a fraction of MaxAge so the
// oldest record's age overshoots by a bounded amount.
func (w *Writer) flushLoop() {
	interval := w.cfg.MaxAge / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.bufMu.Lock()
			due := !w.oldest.IsZero() && w.now().Sub(w.oldest) >= w.cfg.MaxAge
			w.bufMu.Unlock()
			if due {
				ctx, cancel := w.flushCtx()
				w.Flush(ctx)
				cancel()
			}
		}
	}
}

// flushCtx bounds one store round trip. Flushes deliberately do not inherit
// the run loop's context: shutdown cancels the loop while the dispatcher is
// still draining into the buffer.
func (w *Writer) flushCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), flushTimeout)
}
