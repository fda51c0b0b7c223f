package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"counseling/internal/ports"

	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRunning = fmt.Errorf("worker: %w", ports.ErrAlreadyScheduled)
	ErrQueueFull      = errors.New("worker: queue is full")
	ErrPoolClosed     = errors.New("worker: pool is closed")
)

var _ ports.Spawner = (*Pool)(nil)

type job struct {
	key string
	fn  func(ctx context.Context)
}

// Pool runs keyed jobs on a fixed set of goroutines fed by a bounded queue.
// At most one job per key is queued or running at a time.
type Pool struct {
	jobs    chan job
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		jobs:    make(chan job, queueSize),
		workers: workers,
		active:  make(map[string]struct{}),
	}
}

// Start launches the workers. Jobs receive a context derived from ctx that is
// cancelled when Shutdown gives up waiting.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Ctx(ctx).Info().Int("workers", p.workers).Int("queue", cap(p.jobs)).Msg("worker pool started")
}

func (p *Pool) Spawn(key string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.active[key]; ok {
		return ErrAlreadyRunning
	}

	select {
	case p.jobs <- job{key: key, fn: fn}:
		p.active[key] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) Active(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[key]
	return ok
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(p.ctx).Error().Int("worker", id).Str("key", j.key).Interface("panic", r).Msg("job panicked")
		}
		p.mu.Lock()
		delete(p.active, j.key)
		p.mu.Unlock()
	}()
	j.fn(p.ctx)
}

// Shutdown stops accepting jobs and waits for queued and running ones to finish.
// When ctx ends first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return ctx.Err()
	}
}
