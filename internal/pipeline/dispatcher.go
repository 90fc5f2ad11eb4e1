package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kavascapital/marketfeed/internal/model"
)

// CacheSink receives events for last-value caching.
type CacheSink interface {
	Put(ev model.Event)
}

// WriteSink receives events for durable persistence.
type WriteSink interface {
	Add(ev model.Event)
}

// BroadcastSink receives events for subscriber fan-out.
type BroadcastSink interface {
	Publish(ev model.Event)
}

// Dispatcher drains the connector queue on a single goroutine, keeping
// cache, persistence and fan-out in upstream arrival order.
type Dispatcher struct {
	queue     *Queue[model.Event]
	cache     CacheSink
	writer    WriteSink
	broadcast BroadcastSink
	logger    *slog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewDispatcher wires the queue to its three sinks. Any sink may be nil and
// is then skipped.
func NewDispatcher(queue *Queue[model.Event], cache CacheSink, writer WriteSink, broadcast BroadcastSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:     queue,
		cache:     cache,
		writer:    writer,
		broadcast: broadcast,
		logger:    logger,
	}
}

// Start launches the dispatch goroutine. The loop exits once the queue is
// closed and fully drained, so a connector Stop flows through naturally.
func (d *Dispatcher) Start(ctx context.Context) {
	d.once.Do(func() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.loop(ctx)
		}()
		d.logger.Info("dispatcher started")
	})
}

// Wait blocks until the dispatch loop has drained and exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		ev, ok := d.queue.Pop()
		if !ok {
			d.logger.Info("dispatcher drained, exiting")
			return
		}

		d.apply(ev)

		select {
		case <-ctx.Done():
			// Drain what is already queued, then exit.
			for {
				ev, ok := d.queue.TryPop()
				if !ok {
					return
				}
				d.apply(ev)
			}
		default:
		}
	}
}

// apply fans one event to all sinks. Order matters: the cache reflects an
// event no later than subscribers see it.
func (d *Dispatcher) apply(ev model.Event) {
	if d.cache != nil {
		d.cache.Put(ev)
	}
	if d.writer != nil {
		d.writer.Add(ev)
	}
	if d.broadcast != nil {
		d.broadcast.Publish(ev)
	}
}
