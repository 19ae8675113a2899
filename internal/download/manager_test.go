package download

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func openString(s string) OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func TestManager_RunsTask(t *testing.T) {
	m := NewManager("test", 2)
	defer m.ShutdownNow()

	got := make(chan string, 1)
	err := m.Submit(&Task{
		Key:  "p1",
		Open: openString("payload"),
		OnSuccess: func(ctx context.Context, key string, r io.Reader) error {
			data, err := io.ReadAll(r)
			got <- key + ":" + string(data)
			return err
		},
	})
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, "p1:payload", v)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}

	assert.Eventually(t, func() bool {
		return m.CheckProductDownloads().Completed == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, m.IsAlreadyQueued("p1"))
}

func TestManager_DeduplicatesKeys(t *testing.T) {
	m := NewManager("test", 1)
	defer m.ShutdownNow()

	release := make(chan struct{})
	calls := atomic.NewInt32(0)
	task := func() *Task {
		return &Task{
			Key: "p1",
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				<-release
				return io.NopCloser(strings.NewReader("x")), nil
			},
			OnSuccess: func(ctx context.Context, key string, r io.Reader) error {
				calls.Inc()
				return nil
			},
		}
	}

	require.NoError(t, m.Submit(task()))
	assert.True(t, m.IsAlreadyQueued("p1"))
	assert.ErrorIs(t, m.Submit(task()), ErrDuplicate)
	close(release)

	assert.Eventually(t, func() bool {
		return m.CheckProductDownloads().Completed == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// finished keys can be submitted again
	require.NoError(t, m.Submit(task()))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestManager_FailureCallbacks(t *testing.T) {
	tests := []struct {
		name string
		task func(failed chan<- error) *Task
	}{
		{
			name: "open error",
			task: func(failed chan<- error) *Task {
				return &Task{
					Key: "p1",
					Open: func(ctx context.Context) (io.ReadCloser, error) {
						return nil, errors.New("remote unavailable")
					},
					OnFailure: func(ctx context.Context, key string, err error) { failed <- err },
				}
			},
		},
		{
			name: "consumer error",
			task: func(failed chan<- error) *Task {
				return &Task{
					Key:  "p1",
					Open: openString("x"),
					OnSuccess: func(ctx context.Context, key string, r io.Reader) error {
						return errors.New("disk full")
					},
					OnFailure: func(ctx context.Context, key string, err error) { failed <- err },
				}
			},
		},
		{
			name: "panic",
			task: func(failed chan<- error) *Task {
				return &Task{
					Key:  "p1",
					Open: openString("x"),
					OnSuccess: func(ctx context.Context, key string, r io.Reader) error {
						panic("boom")
					},
					OnFailure: func(ctx context.Context, key string, err error) { failed <- err },
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test", 1)
			defer m.ShutdownNow()

			failed := make(chan error, 1)
			require.NoError(t, m.Submit(tt.task(failed)))
			select {
			case err := <-failed:
				assert.Error(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("failure callback not called")
			}
			assert.Eventually(t, func() bool {
				return m.CheckProductDownloads().Failed == 1
			}, 5*time.Second, 10*time.Millisecond)
		})
	}
}

func TestManager_BoundsConcurrency(t *testing.T) {
	const workers = 2
	m := NewManager("test", workers)
	defer m.ShutdownNow()

	var mu sync.Mutex
	inFlight, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, m.Submit(&Task{
			Key: string(rune('a' + i)),
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return io.NopCloser(strings.NewReader("")), nil
			},
			OnSuccess: func(ctx context.Context, key string, r io.Reader) error {
				wg.Done()
				return nil
			},
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, workers)
}

func TestManager_ShutdownNow(t *testing.T) {
	m := NewManager("test", 1)

	started := make(chan struct{})
	failures := atomic.NewInt32(0)
	require.NoError(t, m.Submit(&Task{
		Key: "running",
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		OnFailure: func(ctx context.Context, key string, err error) { failures.Inc() },
	}))
	<-started
	require.NoError(t, m.Submit(&Task{Key: "queued", Open: openString("x")}))

	dropped := m.ShutdownNow()
	assert.Equal(t, []string{"queued"}, dropped)
	assert.Zero(t, failures.Load())
	assert.ErrorIs(t, m.Submit(&Task{Key: "late", Open: openString("x")}), ErrShutdown)
	assert.Zero(t, m.Active())
	assert.Zero(t, m.Queued())
}
