// Package worker runs tasks on a fixed set of goroutines. Tasks submitted with
// the same key always land on the same goroutine, so they run in submission
// order; tasks with different keys may run in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Task is one unit of work. A non-nil error stops the whole pool.
type Task func(ctx context.Context) error

type Pool struct {
	queues []chan Task

	mu     sync.RWMutex
	closed bool
}

// New creates a pool with the given number of workers, each with a buffered
// queue of depth tasks.
func New(workers, depth int) *Pool {
	workers = max(workers, 1)
	depth = max(depth, 0)
	p := &Pool{queues: make([]chan Task, workers)}
	for i := range p.queues {
		p.queues[i] = make(chan Task, depth)
	}
	return p
}

func (p *Pool) Size() int {
	return len(p.queues)
}

// Run starts the workers and blocks until every queue is drained after Close,
// or until a task fails. Tasks receive a context that is canceled on the
// first failure.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, queue := range p.queues {
		g.Go(func() error {
			for task := range queue {
				if err := task(gctx); err != nil {
					return fmt.Errorf("worker %d: %w", i, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Submit queues a task on the worker that owns key. It blocks while that
// worker's queue is full.
func (p *Pool) Submit(ctx context.Context, key string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queues[p.slot(key)] <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks. Queued tasks still run.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, queue := range p.queues {
		close(queue)
	}
}

func (p *Pool) slot(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}
