package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tiercache/internal/cache"
	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/domain"
)

func fetch(t *testing.T, e *Engine, id string) (*domain.Order, error) {
	t.Helper()
	return e.Fetch(context.Background(), FetchRequest{ProductUUID: id, Name: "NAME_" + id, Size: 7, Principal: "tester"})
}

func TestEngine_FetchIsIdempotent(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4}, "a")

	first, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	second, err := fetch(t, h.engine, "a")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.JobStatusRunning, second.Status)
	assert.Equal(t, 1, h.orders.count())
	assert.Equal(t, 1, h.adapter.submitCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.FetchAccepted.WithLabelValues("lta")))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Fetches.WithLabelValues("lta")))
}

func TestEngine_FetchUnknownProduct(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4})

	_, err := fetch(t, h.engine, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, h.orders.count())
}

func TestEngine_PendingQuota(t *testing.T) {
	// no running capacity keeps every order PENDING
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 2, MaxRunningRequests: 0}, "a", "b", "c")

	for _, id := range []string{"a", "b"} {
		o, err := fetch(t, h.engine, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, o.Status)
	}

	_, err := fetch(t, h.engine, "c")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAdmission))
	assert.ErrorIs(t, err, domain.ErrAdmission)

	o, _ := h.orders.Get(context.Background(), "lta", "c")
	assert.Nil(t, o)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.FetchRefused.WithLabelValues("lta")))
}

func TestEngine_PendingQuotaConcurrent(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
	}
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 3, MaxRunningRequests: 0}, ids...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, refused := 0, 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := fetch(t, h.engine, id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if domain.IsKind(err, domain.KindAdmission) {
				refused++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, 17, refused)
	pending, _ := h.orders.CountByStatus(context.Background(), "lta", domain.JobStatusPending)
	assert.Equal(t, int64(3), pending)
}

func TestEngine_RunningQuota(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 10, MaxRunningRequests: 2}, ids...)

	for _, id := range ids {
		_, err := fetch(t, h.engine, id)
		require.NoError(t, err)
	}
	require.True(t, h.recon.RunOnce(context.Background()))
	require.True(t, h.recon.RunOnce(context.Background()))

	running, _ := h.orders.CountByStatus(context.Background(), "lta", domain.JobStatusRunning)
	pending, _ := h.orders.CountByStatus(context.Background(), "lta", domain.JobStatusPending)
	assert.Equal(t, int64(2), running)
	assert.Equal(t, int64(3), pending)
	assert.Equal(t, 2, h.adapter.submitCount())
}

func TestEngine_StartOrderConcurrentCallers(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 10, MaxRunningRequests: 1}, "a", "b", "c")
	ctx := context.Background()
	var orders []*domain.Order
	for _, id := range []string{"a", "b", "c"} {
		o, err := h.orders.CreatePending(ctx, "lta", id)
		require.NoError(t, err)
		orders = append(orders, o)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		for _, o := range orders {
			wg.Add(1)
			go func(o *domain.Order) {
				defer wg.Done()
				_ = h.engine.StartOrder(ctx, o)
			}(o)
		}
	}
	wg.Wait()

	running, _ := h.orders.CountByStatus(ctx, "lta", domain.JobStatusRunning)
	assert.Equal(t, int64(1), running)
	assert.Equal(t, 1, h.adapter.submitCount())
}

func TestEngine_StartOrderProductGone(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4})
	ctx := context.Background()
	o, err := h.orders.CreatePending(ctx, "lta", "deleted")
	require.NoError(t, err)

	err = h.engine.StartOrder(ctx, o)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, _ := h.orders.Get(ctx, "lta", "deleted")
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "Product not found", got.StatusMessage)
}

func TestEngine_SubmissionFailureThenRefetch(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4}, "a")
	h.adapter.submitErr = errors.New("remote quota exceeded")

	o, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, o.Status)
	assert.Contains(t, o.StatusMessage, "remote quota exceeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.OrdersFailed.WithLabelValues("lta")))

	// a failed order is not retried by reconciliation
	h.adapter.submitErr = nil
	h.recon.RunOnce(context.Background())
	assert.Equal(t, domain.JobStatusFailed, h.status(t, "a"))

	again, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	assert.Equal(t, o.ID, again.ID)
	assert.Equal(t, domain.JobStatusRunning, again.Status)
	assert.Equal(t, 1, h.orders.count())
}

func TestEngine_MoveToCache(t *testing.T) {
	h := newHarness(t, config.StoreConfig{}, "a")
	ctx := context.Background()

	require.NoError(t, h.engine.MoveToCache(ctx, "a", strings.NewReader("bytes")))
	assert.True(t, h.catalog.wasRestored("a"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Restores.WithLabelValues("lta")))
	assert.Equal(t, float64(5), testutil.ToFloat64(h.metrics.RestoredBytes.WithLabelValues("lta")))

	err := h.engine.MoveToCache(ctx, "a", strings.NewReader("other"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	ok, _ := h.cache.Has(ctx, "a")
	assert.True(t, ok, "existing entry must survive")
}

type brokenReader struct{ sent bool }

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.sent {
		return 0, errors.New("connection reset by peer")
	}
	b.sent = true
	return copy(p, "partial"), nil
}

func TestEngine_MoveToCacheFailureLeavesNoEntry(t *testing.T) {
	h := newHarness(t, config.StoreConfig{}, "a")
	ctx := context.Background()

	err := h.engine.MoveToCache(ctx, "a", &brokenReader{})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransfer))

	ok, err := h.cache.Has(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, h.catalog.wasRestored("a"))
}

// contendedCache lets a second writer commit the same key right after a failed Set.
type contendedCache struct {
	*cache.DiskStore
	other string
}

func (c *contendedCache) Set(ctx context.Context, id string, r io.Reader) (*cache.Entry, error) {
	entry, err := c.DiskStore.Set(ctx, id, r)
	if err != nil {
		if _, otherErr := c.DiskStore.Set(ctx, id, strings.NewReader(c.other)); otherErr != nil {
			return nil, otherErr
		}
	}
	return entry, err
}

func TestEngine_MoveToCacheFailureKeepsOtherWriter(t *testing.T) {
	h := newHarness(t, config.StoreConfig{}, "x")
	h.engine.cache = &contendedCache{DiskStore: h.cache, other: "good bytes"}
	ctx := context.Background()

	err := h.engine.MoveToCache(ctx, "x", &brokenReader{})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransfer))

	ok, err := h.cache.Has(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok, "entry committed by the other writer must survive")
	entry, err := h.cache.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(len("good bytes")), entry.Size)
}

func TestEngine_CompleteOrderRequiresRunning(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 0}, "a")
	_, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusPending, h.status(t, "a"))

	h.engine.completeOrder(context.Background(), "a")
	assert.Equal(t, domain.JobStatusPending, h.status(t, "a"))
}

func TestEngine_Get(t *testing.T) {
	h := newHarness(t, config.StoreConfig{}, "cached", "remote")
	ctx := context.Background()
	require.NoError(t, h.engine.MoveToCache(ctx, "cached", strings.NewReader("hello")))

	p, err := h.engine.Get(ctx, "cached")
	require.NoError(t, err)
	s, ok := p.(domain.Streamable)
	require.True(t, ok, "cached product must be streamable")
	assert.Equal(t, "NAME_cached", s.GetName())
	assert.Equal(t, int64(5), s.GetSize())

	p, err = h.engine.Get(ctx, "remote")
	require.NoError(t, err)
	_, ok = p.(domain.Streamable)
	assert.False(t, ok, "proxy must not be streamable")
	assert.Equal(t, "NAME_remote", p.GetName())

	_, err = h.engine.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CacheHits.WithLabelValues("lta")))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.CacheMisses.WithLabelValues("lta")))
}

func TestEngine_FetchCachedProduct(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 1, MaxRunningRequests: 1}, "a")
	require.NoError(t, h.engine.MoveToCache(context.Background(), "a", strings.NewReader("x")))

	o, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, o.Status)
	assert.Zero(t, h.adapter.submitCount())
}

func TestEngine_Put(t *testing.T) {
	h := newHarness(t, config.StoreConfig{})
	err := h.engine.Put(context.Background(), "a", strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrReadOnly)
	assert.False(t, domain.IsKind(err, domain.KindAdmission))
}

func TestEngine_PatternReplace(t *testing.T) {
	h := newHarness(t, config.StoreConfig{})
	assert.Equal(t, "S2A_MSIL1C", h.engine.PatternReplaceIn("S2A_MSIL1C"))
	assert.Equal(t, "S2A_MSIL1C", h.engine.PatternReplaceOut("S2A_MSIL1C"))

	h = newHarness(t, config.StoreConfig{
		MaxPendingRequests: 4,
		MaxRunningRequests: 4,
		PatternReplaceIn:   &config.PatternReplace{Pattern: `\.SAFE$`, Replacement: ""},
		PatternReplaceOut:  &config.PatternReplace{Pattern: `x`, Replacement: "xx"},
	}, "a")
	assert.Equal(t, "S2A_MSIL1C", h.engine.PatternReplaceIn("S2A_MSIL1C.SAFE"))
	assert.Equal(t, "xx", h.engine.PatternReplaceOut("x"))

	// the out rule shapes the identifier sent to the remote
	_, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	require.Equal(t, 1, h.adapter.submitCount())
	assert.Equal(t, "NAME_a", h.adapter.submits[0].LocalID)
	assert.Equal(t, "NAME_a", h.adapter.submits[0].RemoteID)

	p, err := h.engine.Resolve(context.Background(), "NAME_a.SAFE")
	require.NoError(t, err)
	assert.Equal(t, "a", p.UUID)
}

func TestEngine_AvailableShortCircuit(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4}, "a")
	h.adapter.available = true

	o, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	assert.NotEqual(t, domain.JobStatusPending, o.Status)

	assert.Eventually(t, func() bool {
		return h.status(t, "a") == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	ok, _ := h.cache.Has(context.Background(), "a")
	assert.True(t, ok)
	assert.True(t, h.catalog.wasRestored("a"))
}

func TestEngine_TransferFailureFailsOrder(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4}, "a")
	h.adapter.downloadErr = errors.New("stream closed")

	_, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	h.adapter.setJob("a", domain.JobStatusCompleted)
	h.recon.RunOnce(context.Background())

	assert.Eventually(t, func() bool {
		return h.status(t, "a") == domain.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	ok, _ := h.cache.Has(context.Background(), "a")
	assert.False(t, ok)
}

func TestEngine_RemoteJobFailure(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 4}, "a")

	_, err := fetch(t, h.engine, "a")
	require.NoError(t, err)
	h.adapter.setJob("a", domain.JobStatusFailed)

	n, err := h.engine.IngestCompletedFetches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.JobStatusFailed, h.status(t, "a"))
}

func TestEngine_Close(t *testing.T) {
	h := newHarness(t, config.StoreConfig{MaxPendingRequests: 4, MaxRunningRequests: 0}, "a", "b")
	_, err := fetch(t, h.engine, "a")
	require.NoError(t, err)

	require.NoError(t, h.engine.Close(context.Background()))
	assert.Equal(t, domain.JobStatusCancelled, h.status(t, "a"))

	_, err = fetch(t, h.engine, "b")
	assert.True(t, domain.IsKind(err, domain.KindUnavailable), "got %v", err)
	require.NoError(t, h.engine.Close(context.Background()))
}
