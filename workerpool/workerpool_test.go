package workerpool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/reconai/auditkit/workerpool"
)

var errExecutor = errors.New("executor error")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingExecutor struct {
	calls    atomic.Int32
	err      error
	duration time.Duration
}

func (e *countingExecutor) Execute(ctx context.Context) error {
	e.calls.Add(1)

	if e.duration > 0 {
		select {
		case <-time.After(e.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return e.err
}

func startPool(t *testing.T, pool *workerpool.WorkerPool) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- pool.Start(ctx) }()

	return cancel, done
}

func TestWorkerPool_ExecutesOnTick(t *testing.T) {
	t.Parallel()

	executor := &countingExecutor{} //nolint:exhaustruct
	pool := workerpool.New(executor, workerpool.WithTickInterval(10*time.Millisecond))

	cancel, done := startPool(t, pool)

	require.Eventually(t, func() bool { return executor.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, pool.Stats().Executions, uint64(3))
}

func TestWorkerPool_ImmediateStart(t *testing.T) {
	t.Parallel()

	executor := &countingExecutor{} //nolint:exhaustruct
	pool := workerpool.New(executor,
		workerpool.WithTickInterval(time.Hour),
		workerpool.WithImmediateStart(),
	)

	cancel, done := startPool(t, pool)

	require.Eventually(t, func() bool { return executor.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerPool_CountsFailuresAndCallsHandler(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32

	executor := &countingExecutor{err: errExecutor} //nolint:exhaustruct
	pool := workerpool.New(executor,
		workerpool.WithTickInterval(10*time.Millisecond),
		workerpool.WithErrorHandler(func(err error) {
			if errors.Is(err, errExecutor) {
				handled.Add(1)
			}
		}),
	)

	cancel, done := startPool(t, pool)

	require.Eventually(t, func() bool { return handled.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, pool.Stats().Failures, uint64(2))
}

func TestWorkerPool_ExecutionTimeout(t *testing.T) {
	t.Parallel()

	var sawDeadline atomic.Bool

	pool := workerpool.New(
		workerpool.ExecutorFunc(func(ctx context.Context) error {
			<-ctx.Done()
			sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))

			return ctx.Err()
		}),
		workerpool.WithTickInterval(10*time.Millisecond),
		workerpool.WithExecutionTimeout(20*time.Millisecond),
	)

	cancel, done := startPool(t, pool)

	require.Eventually(t, sawDeadline.Load, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerPool_SkipsTicksWhenBusy(t *testing.T) {
	t.Parallel()

	executor := &countingExecutor{duration: 200 * time.Millisecond} //nolint:exhaustruct
	pool := workerpool.New(executor,
		workerpool.WithWorkerCount(1),
		workerpool.WithTickInterval(10*time.Millisecond),
	)

	cancel, done := startPool(t, pool)

	require.Eventually(t, func() bool { return pool.Stats().Skipped > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerPool_RejectsSecondStart(t *testing.T) {
	t.Parallel()

	pool := workerpool.New(&countingExecutor{}, workerpool.WithTickInterval(time.Hour)) //nolint:exhaustruct

	cancel, done := startPool(t, pool)

	require.Eventually(t, pool.Running, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, pool.Start(t.Context()), workerpool.ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, pool.Running())
}

func TestWorkerPool_StopUnblocksStart(t *testing.T) {
	t.Parallel()

	pool := workerpool.New(&countingExecutor{}, workerpool.WithName("probes")) //nolint:exhaustruct
	assert.Equal(t, "probes", pool.Name())

	_, done := startPool(t, pool)

	require.Eventually(t, pool.Running, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, pool.Start(t.Context()), workerpool.ErrAlreadyRunning)

	require.NoError(t, pool.Stop())
	require.NoError(t, <-done)
}
