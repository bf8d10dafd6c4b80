// Package workerpool runs an Executor on a fixed tick across a small set of
// workers. The provenance agent uses it to drive probe rounds.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrAlreadyRunning = errors.New("workerpool: already running")

type Executor interface {
	Execute(ctx context.Context) error
}

type ExecutorFunc func(ctx context.Context) error

func (f ExecutorFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Stats counts executions since the pool was created. Skipped ticks are
// ticks dropped because every worker was busy.
type Stats struct {
	Executions uint64
	Failures   uint64
	Skipped    uint64
}

type WorkerPool struct {
	name         string
	executor     Executor
	workerCount  int
	tickInterval time.Duration
	execTimeout  time.Duration
	immediate    bool
	onError      func(error)

	jobs    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	executions atomic.Uint64
	failures   atomic.Uint64
	skipped    atomic.Uint64
}

type Option func(*WorkerPool)

func New(executor Executor, opts ...Option) *WorkerPool {
	pool := &WorkerPool{ //nolint:exhaustruct
		name:         "worker-pool",
		executor:     executor,
		workerCount:  1,
		tickInterval: time.Second,
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

func WithWorkerCount(count int) Option {
	return func(pool *WorkerPool) {
		if count > 0 {
			pool.workerCount = count
		}
	}
}

func WithTickInterval(interval time.Duration) Option {
	return func(pool *WorkerPool) {
		if interval > 0 {
			pool.tickInterval = interval
		}
	}
}

func WithExecutionTimeout(timeout time.Duration) Option {
	return func(pool *WorkerPool) {
		if timeout > 0 {
			pool.execTimeout = timeout
		}
	}
}

func WithName(name string) Option {
	return func(pool *WorkerPool) {
		if name != "" {
			pool.name = name
		}
	}
}

// WithImmediateStart dispatches the first job as soon as the pool starts
// instead of waiting one tick interval.
func WithImmediateStart() Option {
	return func(pool *WorkerPool) {
		pool.immediate = true
	}
}

// WithErrorHandler receives every executor error after it is logged.
func WithErrorHandler(handler func(error)) Option {
	return func(pool *WorkerPool) {
		pool.onError = handler
	}
}

func (pool *WorkerPool) Name() string {
	return pool.name
}

func (pool *WorkerPool) Running() bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	return pool.running
}

func (pool *WorkerPool) Stats() Stats {
	return Stats{
		Executions: pool.executions.Load(),
		Failures:   pool.failures.Load(),
		Skipped:    pool.skipped.Load(),
	}
}

// Start launches the workers and blocks until ctx is cancelled or Stop is
// called. A second concurrent Start returns ErrAlreadyRunning.
func (pool *WorkerPool) Start(ctx context.Context) error {
	pool.mu.Lock()
	if pool.running {
		pool.mu.Unlock()

		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	pool.running = true
	pool.cancel = cancel
	pool.jobs = make(chan struct{})
	pool.mu.Unlock()

	log.Info().
		Str("pool", pool.name).
		Int("worker_count", pool.workerCount).
		Dur("tick_interval", pool.tickInterval).
		Dur("exec_timeout", pool.execTimeout).
		Msg("Worker pool is starting.")

	for workerID := range pool.workerCount {
		pool.wg.Go(func() { pool.worker(runCtx, workerID) })
	}

	pool.wg.Go(func() { pool.dispatch(runCtx) })

	<-runCtx.Done()
	pool.wg.Wait()

	pool.mu.Lock()
	pool.running = false
	pool.mu.Unlock()

	log.Info().Str("pool", pool.name).Msg("Worker pool has stopped.")

	return nil
}

func (pool *WorkerPool) Stop() error {
	pool.mu.Lock()
	cancel := pool.cancel
	pool.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	pool.wg.Wait()

	return nil
}

func (pool *WorkerPool) dispatch(ctx context.Context) {
	defer close(pool.jobs)

	ticker := time.NewTicker(pool.tickInterval)
	defer ticker.Stop()

	if pool.immediate {
		select {
		case pool.jobs <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool.offer(ctx)
		}
	}
}

// offer hands a job to an idle worker or drops the tick when all are busy,
// so slow rounds never queue up behind each other.
func (pool *WorkerPool) offer(ctx context.Context) {
	select {
	case pool.jobs <- struct{}{}:
	case <-ctx.Done():
	default:
		pool.skipped.Add(1)
		log.Debug().Str("pool", pool.name).Msg("All workers busy, tick skipped.")
	}
}

func (pool *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-pool.jobs:
			if !ok {
				return
			}

			pool.execute(ctx, id)
		}
	}
}

func (pool *WorkerPool) execute(ctx context.Context, workerID int) {
	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if pool.execTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, pool.execTimeout)
	}

	defer cancel()

	pool.executions.Add(1)

	if err := pool.executor.Execute(execCtx); err != nil {
		pool.failures.Add(1)

		log.Error().
			Err(err).
			Str("pool", pool.name).
			Int("worker_id", workerID).
			Msg("Executor failed.")

		if pool.onError != nil {
			pool.onError(err)
		}
	}
}
