package candle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kavascapital/marketfeed/internal/model"
)

// TickSource serves ticks for closed buckets, ordered by timestamp then
// arrival sequence.
type TickSource interface {
	TicksInRange(ctx context.Context, token model.InstrumentToken, from, to time.Time) ([]model.Tick, error)
}

// CandleSink persists finished candles.
type CandleSink interface {
	UpsertCandles(ctx context.Context, candles []model.Candle) error
}

// ActiveSource lists instruments worth aggregating.
type ActiveSource interface {
	ActiveTokens() []model.InstrumentToken
}

// Publisher receives candle events for fan-out. Optional.
type Publisher interface {
	Publish(ev model.Event)
}

// Config holds aggregator settings.
type Config struct {
	CheckInterval time.Duration    // How often watermarks are examined.
	Intervals     []model.Interval // Bucket widths to maintain.
	Concurrency   int              // Max instruments aggregated in parallel.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		Intervals:     model.AllIntervals(),
		Concurrency:   8,
	}
}

// Stats counts aggregator activity.
type Stats struct {
	BucketsClosed int64
	CandlesUpsert int64
	Errors        int64
}

// Aggregator is the periodic OHLCV roll-up task.
type Aggregator struct {
	cfg    Config
	ticks  TickSource
	sink   CandleSink
	active ActiveSource
	pub    Publisher
	logger *slog.Logger

	now func() time.Time

	mu         sync.Mutex
	watermarks map[model.Interval]time.Time
	stats      Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an aggregator. pub may be nil.
func New(cfg Config, ticks TickSource, sink CandleSink, active ActiveSource, pub Publisher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = def.Intervals
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	return &Aggregator{
		cfg:        cfg,
		ticks:      ticks,
		sink:       sink,
		active:     active,
		pub:        pub,
		logger:     logger,
		now:        time.Now,
		watermarks: make(map[model.Interval]time.Time),
	}
}

// Start initializes watermarks to the currently open bucket of each interval
// and launches the periodic loop. Buckets already closed before startup are
// not backfilled.
func (a *Aggregator) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)

	now := a.now().UTC()
	a.mu.Lock()
	for _, iv := range a.cfg.Intervals {
		a.watermarks[iv] = now.Truncate(iv.Duration())
	}
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop()
	}()
	a.logger.Info("aggregator started",
		"check_interval", a.cfg.CheckInterval,
		"intervals", len(a.cfg.Intervals),
	)
}

// Stop halts the loop after one final pass over any buckets that closed
// since the last check.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.RunOnce(context.Background())
	a.logger.Info("aggregator stopped")
}

// Stats returns current counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Aggregator) loop() {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.RunOnce(a.ctx)
		}
	}
}

// RunOnce aggregates every bucket closed since each interval's watermark.
func (a *Aggregator) RunOnce(ctx context.Context) {
	now := a.now().UTC()
	tokens := a.active.ActiveTokens()

	for _, iv := range a.cfg.Intervals {
		width := iv.Duration()
		if width <= 0 {
			continue
		}

		a.mu.Lock()
		watermark := a.watermarks[iv]
		a.mu.Unlock()
		if watermark.IsZero() {
			watermark = now.Truncate(width)
		}

		for !watermark.Add(width).After(now) {
			if err := a.aggregateBucket(ctx, iv, watermark, tokens); err != nil {
				a.mu.Lock()
				a.stats.Errors++
				a.mu.Unlock()
				a.logger.Error("bucket aggregation failed",
					"interval", iv,
					"bucket_start", watermark,
					"error", err,
				)
				// Leave the watermark so the bucket is retried next check.
				break
			}

			watermark = watermark.Add(width)
			a.mu.Lock()
			a.watermarks[iv] = watermark
			a.stats.BucketsClosed++
			a.mu.Unlock()
		}
	}
}

// aggregateBucket computes one candle per instrument over
// [bucketStart, bucketStart+width) and upserts the results.
func (a *Aggregator) aggregateBucket(ctx context.Context, iv model.Interval, bucketStart time.Time, tokens []model.InstrumentToken) error {
	if len(tokens) == 0 {
		return nil
	}
	bucketEnd := bucketStart.Add(iv.Duration())

	var mu sync.Mutex
	candles := make([]model.Candle, 0, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for _, token := range tokens {
		token := token
		g.Go(func() error {
			ticks, err := a.ticks.TicksInRange(gctx, token, bucketStart, bucketEnd)
			if err != nil {
				return err
			}
			c, ok := Compute(token, iv, bucketStart, ticks)
			if !ok {
				// No trades in the bucket: no candle, absence means no data.
				return nil
			}
			mu.Lock()
			candles = append(candles, c)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}

	if err := a.sink.UpsertCandles(ctx, candles); err != nil {
		return err
	}

	a.mu.Lock()
	a.stats.CandlesUpsert += int64(len(candles))
	a.mu.Unlock()

	if a.pub != nil {
		for i := range candles {
			a.pub.Publish(model.CandleEvent(&candles[i]))
		}
	}
	return nil
}

// Compute folds a bucket's ticks into one candle. Ticks must already be
// ordered by (timestamp, arrival sequence); the fold preserves that order,
// making the result reproducible for closed buckets. Returns ok=false when
// the bucket has no ticks.
func Compute(token model.InstrumentToken, iv model.Interval, bucketStart time.Time, ticks []model.Tick) (model.Candle, bool) {
	if len(ticks) == 0 {
		return model.Candle{}, false
	}

	c := model.Candle{
		Token:       token,
		Interval:    iv,
		BucketStart: bucketStart.UTC(),
		Open:        ticks[0].LastPrice,
		High:        ticks[0].LastPrice,
		Low:         ticks[0].LastPrice,
		Close:       ticks[len(ticks)-1].LastPrice,
	}
	for _, t := range ticks {
		if t.LastPrice.GreaterThan(c.High) {
			c.High = t.LastPrice
		}
		if t.LastPrice.LessThan(c.Low) {
			c.Low = t.LastPrice
		}
		c.Volume += t.LastQuantity
	}
	return c, true
}
