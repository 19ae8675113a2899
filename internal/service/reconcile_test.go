package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/domain"
)

func TestReconciler_EndToEnd(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 1, MaxRunningRequests: 1}, "A", "B")
	ctx := context.Background()

	a, err := fetch(t, h.engine, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, a.Status)

	b, err := fetch(t, h.engine, "B")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, b.Status)

	h.adapter.setJob("A", domain.JobStatusCompleted)
	require.True(t, h.recon.RunOnce(ctx))

	assert.Eventually(t, func() bool {
		return h.status(t, "A") == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	ok, _ := h.cache.Has(ctx, "A")
	assert.True(t, ok)

	require.True(t, h.recon.RunOnce(ctx))
	assert.Equal(t, domain.JobStatusRunning, h.status(t, "B"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.QueueRunning.WithLabelValues("lta")))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.QueuePending.WithLabelValues("lta")))
}

func TestReconciler_StartsPendingOnceQuotaFrees(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 5, MaxRunningRequests: 1}, "a", "b", "c")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := fetch(t, h.engine, id)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.JobStatusRunning, h.status(t, "a"))

	for _, id := range []string{"a", "b", "c"} {
		h.adapter.setJob(id, domain.JobStatusCompleted)
	}

	// each order finishes and frees the only running slot for the next one
	assert.Eventually(t, func() bool {
		h.recon.RunOnce(ctx)
		return h.status(t, "c") == domain.JobStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.JobStatusCompleted, h.status(t, "a"))
	assert.Equal(t, domain.JobStatusCompleted, h.status(t, "b"))
}

func TestReconciler_SkipsWhileRunning(t *testing.T) {
	h := newHarness(t, config.StoreConfig{})
	h.recon.running.Store(true)
	assert.False(t, h.recon.RunOnce(context.Background()))

	h.recon.running.Store(false)
	assert.True(t, h.recon.RunOnce(context.Background()))
}

func TestReconciler_LaunchAndTrigger(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 5, MaxRunningRequests: 0}, "a")
	ctx, cancel := context.WithCancel(context.Background())
	egrp, ctx := errgroup.WithContext(ctx)

	_, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	h.engine.cfg.MaxRunningRequests = 1

	h.recon.Launch(ctx, egrp)
	h.recon.Trigger()
	assert.Eventually(t, func() bool {
		return h.status(t, "a") == domain.JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, egrp.Wait())
}

func TestIsolate(t *testing.T) {
	err := isolate(context.Background(), time.Second, func(ctx context.Context) error {
		panic("bad item")
	})
	assert.ErrorContains(t, err, "bad item")

	err = isolate(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReconciler_ContinuesAfterItemFailure(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 5, MaxRunningRequests: 5}, "a", "b")
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := fetch(t, h.engine, id)
		require.NoError(t, err)
	}

	// job a vanished from the remote: polling it errors, b must still be ingested
	h.adapter.mu.Lock()
	delete(h.adapter.jobStatus, "job-a")
	h.adapter.mu.Unlock()
	h.adapter.setJob("b", domain.JobStatusCompleted)

	h.recon.RunOnce(ctx)
	assert.Eventually(t, func() bool {
		return h.status(t, "b") == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.JobStatusRunning, h.status(t, "a"))
}
