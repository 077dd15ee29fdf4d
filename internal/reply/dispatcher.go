package reply

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"moneyman/internal/model"
)

// EventHandler handles events that share a key strictly in order.
type EventHandler interface {
	Key(ev model.Event) string
	Handle(ctx context.Context, ev model.Event)
}

// Dispatcher fans events out to a fixed set of workers. Events with the same
// key always land on the same worker, so they are handled in arrival order,
// while unrelated messages proceed in parallel.
type Dispatcher struct {
	handler EventHandler
	queues  []chan model.Event
}

// NewDispatcher creates a Dispatcher with the given number of workers, each
// buffering up to queueSize events.
func NewDispatcher(handler EventHandler, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	queues := make([]chan model.Event, workers)
	for i := range queues {
		queues[i] = make(chan model.Event, queueSize)
	}
	return &Dispatcher{handler: handler, queues: queues}
}

// Submit enqueues ev, blocking while the target worker's queue is full.
func (d *Dispatcher) Submit(ctx context.Context, ev model.Event) error {
	q := d.queues[d.shard(d.handler.Key(ev))]
	select {
	case q <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s event: %w", ev.Kind, ctx.Err())
	}
}

// Run processes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range d.queues {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev := <-q:
					d.handler.Handle(gctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.queues)))
}
