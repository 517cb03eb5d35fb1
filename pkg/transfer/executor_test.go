package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobsync/pkg/provider"
)

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkers(), WorkersPerCPU)
	assert.Zero(t, DefaultWorkers()%WorkersPerCPU)

	e := NewExecutor(ExecutorConfig{})
	defer func() { _ = e.Shutdown(context.Background()) }()
	assert.Equal(t, DefaultWorkers(), e.Workers())
}

func TestExecutor_DoReturnsResult(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 2})
	defer func() { _ = e.Shutdown(context.Background()) }()

	err := e.Do(context.Background(), Work{Op: OpDownload, JobID: "1", Run: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = e.Do(context.Background(), Work{
		Op: OpDownload, JobID: "1", TaskName: "A", Source: "s3://b/out", Destination: "/tmp/out",
		Run: func(ctx context.Context) error { return boom },
	})
	require.Error(t, err)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, OpDownload, te.Op)
	assert.Equal(t, "A", te.TaskName)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "download job 1 task A (s3://b/out -> /tmp/out): boom")
}

func TestExecutor_RecoversPanics(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 1})
	defer func() { _ = e.Shutdown(context.Background()) }()

	err := e.Do(context.Background(), Work{Op: OpUpload, JobID: "7", Run: func(ctx context.Context) error { panic("kaboom") }})
	require.Error(t, err)
	assert.True(t, IsTransferError(err))
	assert.Contains(t, err.Error(), "kaboom")

	// The worker survives the panic.
	assert.NoError(t, e.Do(context.Background(), Work{Op: OpUpload, Run: func(ctx context.Context) error { return nil }}))
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	const workers = 3
	e := NewExecutor(ExecutorConfig{Workers: workers})

	var running, peak atomic.Int32
	release := make(chan struct{})
	var results []<-chan error
	for i := 0; i < 10; i++ {
		ch, err := e.Enqueue(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}})
		require.NoError(t, err)
		results = append(results, ch)
	}

	require.Eventually(t, func() bool { return running.Load() == workers }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, e.Pending())
	close(release)

	for _, ch := range results {
		assert.NoError(t, <-ch)
	}
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestExecutor_FIFO(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 1})

	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})
	_, err := e.Enqueue(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error { <-gate; return nil }})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		i := i
		_, err := e.Enqueue(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}})
		require.NoError(t, err)
	}
	close(gate)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExecutor_ShutdownDrainsAndRejects(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 2})

	var done atomic.Int32
	for i := 0; i < 6; i++ {
		_, err := e.Enqueue(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		}})
		require.NoError(t, err)
	}

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, int32(6), done.Load())

	_, err := e.Enqueue(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrExecutorClosed)
	assert.ErrorIs(t, e.Do(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error { return nil }}), ErrExecutorClosed)
	assert.NoError(t, e.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestExecutor_ShutdownHonorsContext(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 1})
	release := make(chan struct{})
	_, err := e.Enqueue(context.Background(), Work{Op: OpDownload, Run: func(ctx context.Context) error { <-release; return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestExecutor_WorkIgnoresCallerCancellation(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 1})
	defer func() { _ = e.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	ch, err := e.Enqueue(ctx, Work{Op: OpDownload, Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(10 * time.Millisecond)
		return ctx.Err()
	}})
	require.NoError(t, err)
	<-started
	cancel()
	assert.NoError(t, <-ch)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CodeNotFound, Classify(&provider.ProviderError{Op: "GetObject", Err: provider.ErrNotFound}))
	assert.Equal(t, CodeAccessDenied, Classify(&provider.ProviderError{Op: "PutObject", Err: provider.ErrAccessDenied}))
	assert.Equal(t, CodeThrottled, Classify(provider.ErrThrottled))
	assert.Equal(t, CodeProviderUnavailable, Classify(fmt.Errorf("download: %w", &provider.ProviderError{Op: "GetObject", Err: provider.ErrProviderUnavailable})))
	assert.Equal(t, CodeTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, CodeSizeMismatch, Classify(&SizeMismatchError{Key: "k", Expected: 1, Got: 2}))
	assert.Equal(t, CodeInternal, Classify(errors.New("other")))
}
