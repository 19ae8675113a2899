package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tiercache/internal/cache"
	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/download"
	"github.com/timmy/tiercache/internal/remote"
)

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	seq    int
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*domain.Order)}
}

func orderKey(store, id string) string { return store + "/" + id }

func (m *memOrders) copyOf(o *domain.Order) *domain.Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func (m *memOrders) CreatePending(ctx context.Context, store, productUUID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderKey(store, productUUID)]; ok {
		return m.copyOf(o), nil
	}
	m.seq++
	now := time.Unix(int64(m.seq), 0)
	o := &domain.Order{
		ID:          uuid.NewString(),
		StoreName:   store,
		ProductUUID: productUUID,
		Status:      domain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.orders[orderKey(store, productUUID)] = o
	return m.copyOf(o), nil
}

func (m *memOrders) Get(ctx context.Context, store, productUUID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyOf(m.orders[orderKey(store, productUUID)]), nil
}

func (m *memOrders) SetRunning(ctx context.Context, store, productUUID, jobID string, eta *time.Time, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey(store, productUUID)]
	if !ok || o.Status != domain.JobStatusPending {
		return false, nil
	}
	o.Status = domain.JobStatusRunning
	o.JobID = &jobID
	o.EstimatedCompletion = eta
	o.StatusMessage = message
	return true, nil
}

func (m *memOrders) RefreshOrCreate(ctx context.Context, productUUID, store, jobID string, status domain.JobStatus, eta *time.Time, message string) (*domain.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[orderKey(store, productUUID)]
	if !ok {
		m.seq++
		o = &domain.Order{ID: uuid.NewString(), StoreName: store, ProductUUID: productUUID, CreatedAt: time.Unix(int64(m.seq), 0)}
		m.orders[orderKey(store, productUUID)] = o
	}
	o.Status = status
	o.JobID = nil
	if jobID != "" {
		o.JobID = &jobID
	}
	o.EstimatedCompletion = eta
	o.StatusMessage = message
	m.mu.Unlock()
	return m.Get(ctx, store, productUUID)
}

func (m *memOrders) Transition(ctx context.Context, store, productUUID string, from []domain.JobStatus, to domain.JobStatus, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey(store, productUUID)]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			o.StatusMessage = message
			return true, nil
		}
	}
	return false, nil
}

func (m *memOrders) Requeue(ctx context.Context, store, productUUID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey(store, productUUID)]
	if !ok || !o.Status.IsTerminal() {
		return false, nil
	}
	o.Status = domain.JobStatusPending
	o.JobID = nil
	o.StatusMessage = "queued"
	return true, nil
}

func (m *memOrders) CountByStatus(ctx context.Context, store string, status domain.JobStatus) (int64, error) {
	list, _ := m.ListByStatus(ctx, store, status, 0)
	return int64(len(list)), nil
}

func (m *memOrders) ListByStatus(ctx context.Context, store string, status domain.JobStatus, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.StoreName == store && o.Status == status {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) CancelPending(ctx context.Context, store, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		if o.StoreName == store && o.Status == domain.JobStatusPending {
			o.Status = domain.JobStatusCancelled
			o.StatusMessage = message
			n++
		}
	}
	return n, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memCatalog struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	restored map[string]domain.Checksums
}

func newMemCatalog(ids ...string) *memCatalog {
	c := &memCatalog{products: make(map[string]*domain.Product), restored: make(map[string]domain.Checksums)}
	for _, id := range ids {
		c.products[id] = &domain.Product{UUID: id, Identifier: "NAME_" + id, Size: 7}
	}
	return c
}

func (c *memCatalog) ByUUID(ctx context.Context, id string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (c *memCatalog) ByIdentifier(ctx context.Context, name string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.Identifier == name {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (c *memCatalog) MarkRestored(ctx context.Context, id string, size int64, checksums domain.Checksums) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restored[id] = checksums
	return nil
}

func (c *memCatalog) wasRestored(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.restored[id]
	return ok
}

// fakeAdapter hands out one job per submit. Jobs stay running until completed or failed
// by the test.
type fakeAdapter struct {
	mu          sync.Mutex
	submits     []remote.SubmitRequest
	submitErr   error
	available   bool
	jobStatus   map[string]domain.JobStatus
	jobProduct  map[string]string
	downloadErr error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{jobStatus: make(map[string]domain.JobStatus), jobProduct: make(map[string]string)}
}

func (a *fakeAdapter) Name() string { return "fake" }
func (a *fakeAdapter) Close() error { return nil }

func (a *fakeAdapter) Submit(ctx context.Context, req remote.SubmitRequest) (*remote.JobHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits = append(a.submits, req)
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	if a.available {
		return &remote.JobHandle{RemoteID: req.ProductUUID, Status: domain.JobStatusRunning, Available: true}, nil
	}
	jobID := "job-" + req.ProductUUID
	if _, ok := a.jobStatus[jobID]; !ok {
		a.jobStatus[jobID] = domain.JobStatusRunning
	}
	a.jobProduct[jobID] = req.ProductUUID
	return &remote.JobHandle{JobID: jobID, Status: domain.JobStatusRunning, Message: "queued"}, nil
}

func (a *fakeAdapter) PollStatus(ctx context.Context, jobID string) (*remote.JobHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.jobStatus[jobID]
	if !ok {
		return nil, errors.New("unknown job")
	}
	return &remote.JobHandle{JobID: jobID, RemoteID: a.jobProduct[jobID], Status: st, Message: string(st)}, nil
}

func (a *fakeAdapter) Download(ctx context.Context, job *remote.JobHandle) (io.ReadCloser, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.downloadErr != nil {
		return nil, 0, a.downloadErr
	}
	payload := "payload-" + job.RemoteID
	return io.NopCloser(strings.NewReader(payload)), int64(len(payload)), nil
}

func (a *fakeAdapter) setJob(productUUID string, st domain.JobStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobStatus["job-"+productUUID] = st
}

func (a *fakeAdapter) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submits)
}

type harness struct {
	engine   *Engine
	orders   *memOrders
	catalog  *memCatalog
	adapter  *fakeAdapter
	cache    *cache.DiskStore
	metrics  *Metrics
	recon    *Reconciler
	registry *prometheus.Registry
}

func newHarness(t *testing.T, cfg config.StoreConfig, products ...string) *harness {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "lta"
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}
	store, err := cache.Open(cache.Options{Dir: t.TempDir(), MaxSize: 1 << 20})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	h := &harness{
		orders:   newMemOrders(),
		catalog:  newMemCatalog(products...),
		adapter:  newFakeAdapter(),
		cache:    store,
		metrics:  NewMetrics(reg),
		registry: reg,
	}
	downloads := download.NewManager(cfg.Name, 2)
	h.engine, err = NewEngine(cfg, EngineDeps{
		Orders:    h.orders,
		Cache:     h.cache,
		Catalog:   h.catalog,
		Adapter:   h.adapter,
		Downloads: downloads,
		Metrics:   h.metrics,
	})
	require.NoError(t, err)
	h.recon = NewReconciler(h.engine, time.Hour)
	t.Cleanup(func() { downloads.ShutdownNow() })
	return h
}

func (h *harness) status(t *testing.T, productUUID string) domain.JobStatus {
	t.Helper()
	o, err := h.orders.Get(context.Background(), h.engine.Name(), productUUID)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o.Status
}
