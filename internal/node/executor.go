package node

import (
	"context"
	"errors"

	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the executor size when none is configured.
const DefaultWorkers = 4

var ErrExecutorStopped = errors.New("executor stopped")

type job struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan struct{}
}

// Executor runs service calls on a fixed set of workers. A call that finds
// every worker busy waits for one to free up or for its own context.
type Executor struct {
	workers int
	jobs    chan job
	stopped chan struct{}
}

func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{
		workers: workers,
		jobs:    make(chan job),
		stopped: make(chan struct{}),
	}
}

func (e *Executor) Workers() int { return e.workers }

// Run starts the workers and blocks until ctx ends and every running call
// has returned.
func (e *Executor) Run(ctx context.Context) error {
	defer close(e.stopped)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		i := i
		g.Go(func() error {
			e.work(gctx, i)
			return nil
		})
	}
	log.Info().Int("workers", e.workers).Msg("node.Executor started")
	err := g.Wait()
	log.Info().Msg("node.Executor stopped")
	return err
}

func (e *Executor) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			observability.AddBusyWorkers(1)
			j.fn(j.ctx)
			observability.AddBusyWorkers(-1)
			close(j.done)
			log.Trace().Int("worker", id).Msg("node.Executor job done")
		}
	}
}

// Do runs fn on a worker and waits for it. Once a worker has taken fn, Do
// waits for fn to return even if ctx ends; fn is expected to honor ctx.
func (e *Executor) Do(ctx context.Context, fn func(context.Context)) error {
	j := job{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case e.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrExecutorStopped
	}
	<-j.done
	return nil
}
