package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kavascapital/marketfeed/internal/codec"
	"github.com/kavascapital/marketfeed/internal/config"
	"github.com/kavascapital/marketfeed/internal/model"
	"github.com/kavascapital/marketfeed/internal/pipeline"
	"github.com/kavascapital/marketfeed/internal/subs"
)

// ConnectorStats provides statistics about the connector.
type ConnectorStats struct {
	State      string
	Connects   int64
	Reconnects int64
	Ticks      int64
	Depths     int64
	Skipped    int64
}

// Connector owns the upstream connection lifecycle: it dials, decodes binary
// frames into events, pushes them onto the pipeline queue, and reconnects
// with exponential backoff. On reconnect it replays the registry's aggregate
// subscription set so no instrument is silently lost.
type Connector struct {
	cfg      config.FeedConfig
	registry *subs.Registry
	queue    *pipeline.Queue[model.Event]
	logger   *slog.Logger

	// newClient is swappable for tests.
	newClient func(ClientConfig, *slog.Logger) Client

	mu      sync.Mutex
	client  Client
	cancel  context.CancelFunc
	started bool
	stopped bool

	wg    sync.WaitGroup
	state atomic.Int32
	fatal chan error
	seq   atomic.Int64

	connects   atomic.Int64
	reconnects atomic.Int64
	ticks      atomic.Int64
	depths     atomic.Int64
	skipped    atomic.Int64
}

// NewConnector creates a connector feeding decoded events into queue.
func NewConnector(cfg config.FeedConfig, registry *subs.Registry, queue *pipeline.Queue[model.Event], logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		cfg:       cfg,
		registry:  registry,
		queue:     queue,
		logger:    logger,
		newClient: NewClient,
		fatal:     make(chan error, 1),
	}
}

// Start begins the connect/consume/reconnect loop.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("connector already started")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(runCtx)

	return nil
}

// Stop shuts the connector down and closes the event queue. Safe to call
// more than once.
func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Info("stopping feed connector")
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("shutdown timeout, forcing close")
	}

	c.setState(StateClosed)
	c.queue.Close()

	c.logger.Info("feed connector stopped")
	return nil
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

// Fatal returns a channel that receives a single error when the reconnect
// attempt cap is exhausted.
func (c *Connector) Fatal() <-chan error {
	return c.fatal
}

// Stats returns current connector statistics.
func (c *Connector) Stats() ConnectorStats {
	return ConnectorStats{
		State:      c.State().String(),
		Connects:   c.connects.Load(),
		Reconnects: c.reconnects.Load(),
		Ticks:      c.ticks.Load(),
		Depths:     c.depths.Load(),
		Skipped:    c.skipped.Load(),
	}
}

// ApplyDelta translates a registry delta into upstream control messages.
// When disconnected the delta is a no-op: the next reconnect replays the
// full aggregate set, which already reflects it.
func (c *Connector) ApplyDelta(d subs.Delta) error {
	if d.Empty() {
		return nil
	}

	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()

	if cl == nil || !cl.IsConnected() {
		c.logger.Debug("delta deferred, not connected",
			"subscribe", len(d.Subscribe),
			"unsubscribe", len(d.Unsubscribe),
			"mode_changes", len(d.ModeChanges),
		)
		return nil
	}

	for _, chunk := range chunkTokens(d.Unsubscribe, c.cfg.SubscribeChunk) {
		msg, err := codec.EncodeUnsubscribe(chunk)
		if err != nil {
			return err
		}
		if err := cl.Send(msg); err != nil {
			return fmt.Errorf("send unsubscribe: %w", err)
		}
	}

	if err := c.sendSubscribes(cl, d.Subscribe); err != nil {
		return err
	}

	for mode, tokens := range groupByMode(d.ModeChanges) {
		for _, chunk := range chunkTokens(tokens, c.cfg.SubscribeChunk) {
			msg, err := codec.EncodeMode(mode, chunk)
			if err != nil {
				return err
			}
			if err := cl.Send(msg); err != nil {
				return fmt.Errorf("send mode change: %w", err)
			}
		}
	}

	return nil
}

// run is the connect/consume/reconnect loop.
func (c *Connector) run(ctx context.Context) {
	defer c.wg.Done()

	attempt := 0
	wait := c.cfg.ReconnectBaseDelay

	for ctx.Err() == nil {
		if attempt > 0 {
			if c.cfg.MaxReconnectAttempts > 0 && attempt >= c.cfg.MaxReconnectAttempts {
				c.logger.Error("reconnect attempts exhausted", "attempts", attempt)
				c.setState(StateClosed)
				select {
				case c.fatal <- fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempt):
				default:
				}
				return
			}

			c.setState(StateReconnecting)
			select {
			case <-ctx.Done():
				c.setState(StateClosed)
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > c.cfg.ReconnectMaxDelay {
				wait = c.cfg.ReconnectMaxDelay
			}
		} else {
			c.setState(StateConnecting)
		}

		cl := c.newClient(c.clientConfig(), c.logger)
		if err := cl.Connect(ctx); err != nil {
			attempt++
			c.logger.Warn("connect failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		c.client = cl
		c.mu.Unlock()
		c.setState(StateConnected)
		c.connects.Add(1)
		if attempt > 0 {
			c.reconnects.Add(1)
		}
		attempt = 0
		wait = c.cfg.ReconnectBaseDelay

		if err := c.resubscribe(cl); err != nil {
			c.logger.Warn("resubscribe failed", "error", err)
		}

		reason := c.consume(ctx, cl)
		cl.Close()
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}

		c.logger.Warn("feed disconnected", "reason", reason)
		attempt = 1
	}

	c.setState(StateClosed)
}

// consume pumps messages into the pipeline until the connection fails.
func (c *Connector) consume(ctx context.Context, cl Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-cl.Errors():
			return err
		case msg, ok := <-cl.Messages():
			if !ok {
				return errors.New("message channel closed")
			}
			c.handleMessage(msg)
		}
	}
}

// handleMessage decodes one raw frame into events. Text frames are vendor
// postbacks and are only logged. One-byte binary frames are heartbeats.
func (c *Connector) handleMessage(msg Message) {
	if !msg.Binary {
		c.logger.Debug("feed text message", "data", string(msg.Data))
		return
	}
	if len(msg.Data) <= 1 {
		return
	}

	batch, err := codec.Decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		c.logger.Warn("frame decode failed", "error", err, "bytes", len(msg.Data))
		c.skipped.Add(1)
		return
	}
	if batch.Skipped > 0 {
		c.skipped.Add(int64(batch.Skipped))
	}

	for i := range batch.Ticks {
		t := batch.Ticks[i]
		t.Seq = c.seq.Add(1)
		c.queue.Push(model.TickEvent(&t))
	}
	c.ticks.Add(int64(len(batch.Ticks)))

	for i := range batch.Depths {
		d := batch.Depths[i]
		d.Seq = c.seq.Add(1)
		c.queue.Push(model.DepthEvent(&d))
	}
	c.depths.Add(int64(len(batch.Depths)))
}

// resubscribe replays the registry's full aggregate set on a fresh connection.
func (c *Connector) resubscribe(cl Client) error {
	agg := c.registry.Aggregate()
	if len(agg) == 0 {
		return nil
	}

	c.logger.Info("resubscribing aggregate set", "instruments", len(agg))
	return c.sendSubscribes(cl, agg)
}

// sendSubscribes emits subscribe plus mode control messages in chunks,
// grouped by mode.
func (c *Connector) sendSubscribes(cl Client, pairs []subs.TokenMode) error {
	for mode, tokens := range groupByMode(pairs) {
		for _, chunk := range chunkTokens(tokens, c.cfg.SubscribeChunk) {
			msg, err := codec.EncodeSubscribe(chunk)
			if err != nil {
				return err
			}
			if err := cl.Send(msg); err != nil {
				return fmt.Errorf("send subscribe: %w", err)
			}

			msg, err = codec.EncodeMode(mode, chunk)
			if err != nil {
				return err
			}
			if err := cl.Send(msg); err != nil {
				return fmt.Errorf("send mode: %w", err)
			}
		}
	}
	return nil
}

func (c *Connector) clientConfig() ClientConfig {
	return ClientConfig{
		URL:          c.cfg.URL,
		APIKey:       c.cfg.APIKey,
		AccessToken:  c.cfg.AccessToken,
		PingInterval: c.cfg.PingInterval,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
}

func groupByMode(pairs []subs.TokenMode) map[model.Mode][]model.InstrumentToken {
	out := make(map[model.Mode][]model.InstrumentToken)
	for _, p := range pairs {
		out[p.Mode] = append(out[p.Mode], p.Token)
	}
	return out
}

func chunkTokens(tokens []model.InstrumentToken, size int) [][]model.InstrumentToken {
	if len(tokens) == 0 {
		return nil
	}
	if size <= 0 {
		size = 500
	}
	var out [][]model.InstrumentToken
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[start:end])
	}
	return out
}
