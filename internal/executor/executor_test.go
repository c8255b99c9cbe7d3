package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitRunsTask(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Shutdown(time.Second)

	c, err := m.Context("worker")
	require.NoError(t, err)

	f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestContextIsSharedByName(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Shutdown(time.Second)

	a, err := m.Context("worker")
	require.NoError(t, err)
	b, err := m.Context("worker")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := m.Context("api")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
}

func TestTasksRunSeriallyInOrder(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Shutdown(time.Second)

	c, err := m.Context("worker")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var running int

	var futures []*Future
	for i := 0; i < 20; i++ {
		i := i
		f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			running++
			assert.Equal(t, 1, running, "tasks must not overlap")
			order = append(order, i)
			running--
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}

	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	m := NewManager(zap.NewNop())

	c, err := m.Context("worker")
	require.NoError(t, err)

	m.Shutdown(time.Second)

	_, err = c.Submit(func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrSchedulerUnavailable)

	_, err = m.Context("other")
	assert.ErrorIs(t, err, ErrSchedulerUnavailable)
}

func TestShutdownIsIdempotent(t *testing.T) {
	m := NewManager(zap.NewNop())

	_, err := m.Context("worker")
	require.NoError(t, err)

	m.Shutdown(time.Second)
	m.Shutdown(time.Second) // must not panic or block
}

func TestShutdownDrainsQueuedWork(t *testing.T) {
	m := NewManager(zap.NewNop())

	c, err := m.Context("worker")
	require.NoError(t, err)

	var done int
	var mu sync.Mutex
	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	m.Shutdown(5 * time.Second)

	mu.Lock()
	assert.Equal(t, 5, done)
	mu.Unlock()

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		assert.NoError(t, err)
	}
}

func TestShutdownGraceBoundsAllContexts(t *testing.T) {
	m := NewManager(zap.NewNop())

	// Two contexts, each busy with a slow task and holding a backlog of
	// queued work. The grace period must cover both together; neither
	// may drain its backlog after the deadline.
	var queued []*Future
	for _, name := range []string{"alpha", "beta"} {
		c, err := m.Context(name)
		require.NoError(t, err)

		_, err = c.Submit(func(ctx context.Context) (interface{}, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil, nil
		})
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
				time.Sleep(100 * time.Millisecond)
				return nil, nil
			})
			require.NoError(t, err)
			queued = append(queued, f)
		}
	}

	start := time.Now()
	m.Shutdown(50 * time.Millisecond)
	elapsed := time.Since(start)

	// Far below the ~2s a per-context grace would allow.
	assert.Less(t, elapsed, 500*time.Millisecond)

	for _, f := range queued {
		_, err := f.Wait(context.Background())
		assert.ErrorIs(t, err, ErrSchedulerUnavailable)
	}
}

func TestWaitRespectsCallerContext(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Shutdown(time.Second)

	c, err := m.Context("worker")
	require.NoError(t, err)

	release := make(chan struct{})
	f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = f.Wait(context.Background())
	assert.NoError(t, err)
}
