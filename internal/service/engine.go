package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/tiercache/internal/cache"
	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/download"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/remote"
)

// OrderStore is the durable order table.
type OrderStore interface {
	CreatePending(ctx context.Context, store, productUUID string) (*domain.Order, error)
	Get(ctx context.Context, store, productUUID string) (*domain.Order, error)
	SetRunning(ctx context.Context, store, productUUID, jobID string, eta *time.Time, message string) (bool, error)
	RefreshOrCreate(ctx context.Context, productUUID, store, jobID string, status domain.JobStatus, eta *time.Time, message string) (*domain.Order, error)
	Transition(ctx context.Context, store, productUUID string, from []domain.JobStatus, to domain.JobStatus, message string) (bool, error)
	Requeue(ctx context.Context, store, productUUID string) (bool, error)
	CountByStatus(ctx context.Context, store string, status domain.JobStatus) (int64, error)
	ListByStatus(ctx context.Context, store string, status domain.JobStatus, limit int) ([]domain.Order, error)
	CancelPending(ctx context.Context, store, message string) (int64, error)
}

// CacheStore holds materialized products.
type CacheStore interface {
	Has(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*cache.Entry, error)
	Set(ctx context.Context, id string, r io.Reader) (*cache.Entry, error)
	Delete(ctx context.Context, id string) error
	CurrentSize() int64
	MaximumSize() int64
}

// Catalog resolves product metadata.
type Catalog interface {
	ByUUID(ctx context.Context, id string) (*domain.Product, error)
	ByIdentifier(ctx context.Context, name string) (*domain.Product, error)
	MarkRestored(ctx context.Context, id string, size int64, checksums domain.Checksums) error
}

// Downloader runs transfers off the caller's goroutine.
type Downloader interface {
	Submit(task *download.Task) error
	IsAlreadyQueued(key string) bool
	CheckProductDownloads() download.Stats
	ShutdownNow() []string
	Active() int
}

// FetchRequest asks for a product to be brought into the cache.
type FetchRequest struct {
	ProductUUID string
	Name        string
	Size        int64
	// Principal is the requester, used in logs only.
	Principal string
}

// CachedProduct is a product served from the local cache.
type CachedProduct struct {
	*cache.Entry
	Name string
}

// GetName returns the catalog name, falling back to the cache key.
func (p *CachedProduct) GetName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Entry.GetName()
}

// Engine fronts one remote archive with the local cache. Fetch requests become orders;
// orders become remote jobs; finished jobs are downloaded into the cache.
type Engine struct {
	cfg       config.StoreConfig
	orders    OrderStore
	cache     CacheStore
	catalog   Catalog
	adapter   remote.Adapter
	downloads Downloader
	metrics   *Metrics
	logger    *logger.Logger

	patternIn  *patternRule
	patternOut *patternRule

	// admitMu guards the admission check and order creation of Fetch.
	admitMu sync.Mutex
	// startMu serializes StartOrder so the running quota check and the transition to
	// RUNNING happen atomically.
	startMu sync.Mutex

	closed atomic.Bool
}

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Orders    OrderStore
	Cache     CacheStore
	Catalog   Catalog
	Adapter   remote.Adapter
	Downloads Downloader
	Metrics   *Metrics
	Logger    *logger.Logger
}

// NewEngine creates the engine for one store.
// Parameters:
//   - cfg: store configuration with defaults applied.
//   - deps: injected collaborators; Logger may be nil.
//
// Returns:
//   - *Engine: ready engine.
//   - error: non-nil if a pattern rule does not compile.
func NewEngine(cfg config.StoreConfig, deps EngineDeps) (*Engine, error) {
	in, err := newPatternRule(cfg.PatternReplaceIn)
	if err != nil {
		return nil, fmt.Errorf("store %q: pattern_replace_in: %w", cfg.Name, err)
	}
	out, err := newPatternRule(cfg.PatternReplaceOut)
	if err != nil {
		return nil, fmt.Errorf("store %q: pattern_replace_out: %w", cfg.Name, err)
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	return &Engine{
		cfg:        cfg,
		orders:     deps.Orders,
		cache:      deps.Cache,
		catalog:    deps.Catalog,
		adapter:    deps.Adapter,
		downloads:  deps.Downloads,
		metrics:    deps.Metrics,
		logger:     log.WithStore("engine", cfg.Name),
		patternIn:  in,
		patternOut: out,
	}, nil
}

// Name returns the store name.
func (e *Engine) Name() string { return e.cfg.Name }

func (e *Engine) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, e.logger).WithField(logger.FieldStore, e.cfg.Name)
}

// Fetch admits a retrieval request. A live order for the product is returned as is.
// Otherwise the pending quota is checked and a PENDING order is created; when it is
// the only pending order it is started right away.
func (e *Engine) Fetch(ctx context.Context, req FetchRequest) (*domain.Order, error) {
	const op = "fetch"
	if e.closed.Load() {
		return nil, domain.NewError(domain.KindUnavailable, op, "store "+e.cfg.Name+" is closed", nil)
	}
	e.metrics.Fetches.WithLabelValues(e.cfg.Name).Inc()

	product, err := e.catalog.ByUUID(ctx, req.ProductUUID)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, op, "catalog lookup failed", err)
	}
	if product == nil {
		return nil, domain.NewError(domain.KindNotFound, op, "product "+req.ProductUUID+" not found", nil)
	}

	order, admitted, err := e.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !admitted || order.Status != domain.JobStatusPending {
		return order, nil
	}

	pending, err := e.orders.CountByStatus(ctx, e.cfg.Name, domain.JobStatusPending)
	if err != nil || pending != 1 {
		return order, nil
	}
	if err := e.StartOrder(ctx, order); err != nil {
		e.log(ctx).WithError(err).WithField(logger.FieldProductUUID, order.ProductUUID).
			Info("Immediate start deferred to reconciliation")
	}
	if refreshed, err := e.orders.Get(ctx, e.cfg.Name, order.ProductUUID); err == nil && refreshed != nil {
		order = refreshed
	}
	return order, nil
}

// admit runs the admission critical section. It reports whether a new order was
// created or a finished one re-queued.
func (e *Engine) admit(ctx context.Context, req FetchRequest) (*domain.Order, bool, error) {
	const op = "fetch"
	log := e.log(ctx).WithFields(logger.Fields{
		logger.FieldProductUUID: req.ProductUUID,
		logger.FieldPrincipal:   req.Principal,
	})

	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	existing, err := e.orders.Get(ctx, e.cfg.Name, req.ProductUUID)
	if err != nil {
		return nil, false, domain.NewError(domain.KindInternal, op, "order lookup failed", err)
	}
	if existing != nil && !existing.Status.IsTerminal() {
		log.WithField(logger.FieldOrderStatus, existing.Status).Info("Product already queued")
		return existing, false, nil
	}

	cached, err := e.cache.Has(ctx, req.ProductUUID)
	if err != nil {
		return nil, false, domain.NewError(domain.KindInternal, op, "cache lookup failed", err)
	}
	if cached {
		if existing != nil && existing.Status == domain.JobStatusCompleted {
			return existing, false, nil
		}
		order, err := e.orders.RefreshOrCreate(ctx, req.ProductUUID, e.cfg.Name, "", domain.JobStatusCompleted, nil, "product already cached")
		if err != nil {
			return nil, false, domain.NewError(domain.KindInternal, op, "failed to record cached product", err)
		}
		return order, false, nil
	}

	pending, err := e.orders.CountByStatus(ctx, e.cfg.Name, domain.JobStatusPending)
	if err != nil {
		return nil, false, domain.NewError(domain.KindInternal, op, "failed to count pending orders", err)
	}
	if pending >= int64(e.cfg.MaxPendingRequests) {
		e.metrics.FetchRefused.WithLabelValues(e.cfg.Name).Inc()
		log.WithField(logger.FieldCount, pending).Warn("Fetch refused, pending queue full")
		return nil, false, domain.NewError(domain.KindAdmission, op,
			fmt.Sprintf("too many pending requests for store %s (%d/%d), retry later", e.cfg.Name, pending, e.cfg.MaxPendingRequests), nil)
	}

	var order *domain.Order
	if existing != nil {
		if _, err := e.orders.Requeue(ctx, e.cfg.Name, req.ProductUUID); err != nil {
			return nil, false, domain.NewError(domain.KindInternal, op, "failed to requeue order", err)
		}
		order, err = e.orders.Get(ctx, e.cfg.Name, req.ProductUUID)
	} else {
		order, err = e.orders.CreatePending(ctx, e.cfg.Name, req.ProductUUID)
	}
	if err != nil {
		return nil, false, domain.NewError(domain.KindInternal, op, "failed to create order", err)
	}
	if order == nil {
		return nil, false, domain.NewError(domain.KindInternal, op, "order vanished after creation", nil)
	}

	e.metrics.FetchAccepted.WithLabelValues(e.cfg.Name).Inc()
	log.WithField(logger.FieldSize, req.Size).Info("Fetch accepted")
	return order, true, nil
}

// Get returns the cached product, a proxy for a product that is only known to the
// catalog, or a NotFound error.
func (e *Engine) Get(ctx context.Context, productUUID string) (domain.ProductInfo, error) {
	cached, err := e.cache.Has(ctx, productUUID)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "get", "cache lookup failed", err)
	}
	if cached {
		entry, err := e.cache.Get(ctx, productUUID)
		if err == nil {
			e.metrics.CacheHits.WithLabelValues(e.cfg.Name).Inc()
			product := &CachedProduct{Entry: entry}
			if p, err := e.catalog.ByUUID(ctx, productUUID); err == nil && p != nil {
				product.Name = p.Identifier
			}
			return product, nil
		}
		// evicted between Has and Get
		if !errors.Is(err, cache.ErrNotCached) {
			return nil, domain.NewError(domain.KindInternal, "get", "cache read failed", err)
		}
	}
	e.metrics.CacheMisses.WithLabelValues(e.cfg.Name).Inc()

	p, err := e.catalog.ByUUID(ctx, productUUID)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "get", "catalog lookup failed", err)
	}
	if p == nil {
		return nil, domain.NewError(domain.KindNotFound, "get", "product "+productUUID+" not found", nil)
	}
	return domain.NewProxyProduct(p), nil
}

// Resolve finds a catalog product by the name a remote uses for it.
func (e *Engine) Resolve(ctx context.Context, remoteName string) (*domain.Product, error) {
	name := e.PatternReplaceIn(remoteName)
	p, err := e.catalog.ByIdentifier(ctx, name)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "resolve", "catalog lookup failed", err)
	}
	if p == nil {
		return nil, domain.NewError(domain.KindNotFound, "resolve", "product "+name+" not found", nil)
	}
	return p, nil
}

// Order returns the order for a product, or nil.
func (e *Engine) Order(ctx context.Context, productUUID string) (*domain.Order, error) {
	return e.orders.Get(ctx, e.cfg.Name, productUUID)
}

// StartOrder submits a PENDING order to the remote. It re-reads the durable status and
// does nothing if the order is no longer PENDING. It fails with a MaxRunning error when
// the running quota is saturated.
func (e *Engine) StartOrder(ctx context.Context, order *domain.Order) error {
	const op = "start order"
	log := e.log(ctx).WithField(logger.FieldProductUUID, order.ProductUUID)

	e.startMu.Lock()
	defer e.startMu.Unlock()

	current, err := e.orders.Get(ctx, e.cfg.Name, order.ProductUUID)
	if err != nil {
		return domain.NewError(domain.KindInternal, op, "order lookup failed", err)
	}
	if current == nil || current.Status != domain.JobStatusPending {
		return nil
	}

	running, err := e.orders.CountByStatus(ctx, e.cfg.Name, domain.JobStatusRunning)
	if err != nil {
		return domain.NewError(domain.KindInternal, op, "failed to count running orders", err)
	}
	if running >= int64(e.cfg.MaxRunningRequests) {
		return domain.NewError(domain.KindMaxRunning, op,
			fmt.Sprintf("%d of %d orders running", running, e.cfg.MaxRunningRequests), nil)
	}

	product, err := e.catalog.ByUUID(ctx, order.ProductUUID)
	if err != nil {
		return domain.NewError(domain.KindInternal, op, "catalog lookup failed", err)
	}
	if product == nil {
		e.failOrder(ctx, order.ProductUUID, domain.JobStatusPending, "Product not found")
		return domain.NewError(domain.KindNotFound, op, "product "+order.ProductUUID+" not found", nil)
	}

	job, err := e.submit(ctx, product)
	if err != nil {
		e.failOrder(ctx, order.ProductUUID, domain.JobStatusPending, err.Error())
		return domain.NewError(domain.KindSubmission, op, "remote refused order", err)
	}

	if job.Available {
		if _, err := e.orders.RefreshOrCreate(ctx, order.ProductUUID, e.cfg.Name, job.JobID,
			domain.JobStatusRunning, job.EstimatedCompletion, job.Message); err != nil {
			return domain.NewError(domain.KindInternal, op, "failed to record available product", err)
		}
		log.Info("Product available on remote, downloading")
		return e.enqueueDownload(ctx, order.ProductUUID, job)
	}

	if _, err := e.orders.SetRunning(ctx, e.cfg.Name, order.ProductUUID, job.JobID,
		job.EstimatedCompletion, job.Message); err != nil {
		return domain.NewError(domain.KindInternal, op, "failed to record remote job", err)
	}
	log.WithField(logger.FieldJobID, job.JobID).Info("Order submitted to remote")
	return nil
}

func (e *Engine) submit(ctx context.Context, product *domain.Product) (*remote.JobHandle, error) {
	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	return e.adapter.Submit(submitCtx, remote.SubmitRequest{
		LocalID:     product.Identifier,
		RemoteID:    e.PatternReplaceOut(product.Identifier),
		ProductUUID: product.UUID,
		Size:        product.Size,
	})
}

// enqueueDownload hands the job payload to the download manager. A transfer already in
// flight for the product is not an error.
func (e *Engine) enqueueDownload(ctx context.Context, productUUID string, job *remote.JobHandle) error {
	err := e.downloads.Submit(&download.Task{
		Key: productUUID,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			rc, _, err := e.adapter.Download(ctx, job)
			return rc, err
		},
		OnSuccess: func(ctx context.Context, key string, r io.Reader) error {
			if err := e.MoveToCache(ctx, key, r); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				return err
			}
			e.completeOrder(ctx, key)
			return nil
		},
		OnFailure: func(ctx context.Context, key string, err error) {
			e.failOrder(ctx, key, domain.JobStatusRunning, "transfer failed: "+err.Error())
		},
	})
	if errors.Is(err, download.ErrDuplicate) {
		return nil
	}
	if err != nil {
		e.log(ctx).WithError(err).WithField(logger.FieldProductUUID, productUUID).Error("Failed to queue download")
		return domain.NewError(domain.KindTransfer, "download", "failed to queue download", err)
	}
	return nil
}

// MoveToCache writes the product stream into the cache. An AlreadyExists error is
// returned unchanged. A failed write leaves no partial entry behind: the cache store
// discards it under its own per-key lock, so nothing is deleted here.
func (e *Engine) MoveToCache(ctx context.Context, productUUID string, r io.Reader) error {
	entry, err := e.cache.Set(ctx, productUUID, r)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
		return domain.NewError(domain.KindTransfer, "move to cache", "cache write failed", err)
	}

	if err := e.catalog.MarkRestored(ctx, productUUID, entry.Size, entry.Checksums); err != nil {
		e.log(ctx).WithError(err).WithField(logger.FieldProductUUID, productUUID).
			Error("Failed to update catalog after restore")
	}
	e.metrics.Restores.WithLabelValues(e.cfg.Name).Inc()
	e.metrics.RestoredBytes.WithLabelValues(e.cfg.Name).Add(float64(entry.Size))

	e.log(ctx).WithFields(logger.Fields{
		logger.FieldProductUUID: productUUID,
		logger.FieldSize:        entry.Size,
	}).Info("Product restored to cache")
	return nil
}

// IngestCompletedFetches polls the remote jobs of RUNNING orders. Completed jobs are
// queued for download and failed jobs fail their order. It returns how many orders
// reached one of those outcomes.
func (e *Engine) IngestCompletedFetches(ctx context.Context) (int, error) {
	orders, err := e.orders.ListByStatus(ctx, e.cfg.Name, domain.JobStatusRunning, 0)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for i := range orders {
		if ctx.Err() != nil {
			return ingested, ctx.Err()
		}
		order := &orders[i]
		if e.downloads.IsAlreadyQueued(order.ProductUUID) {
			continue
		}
		var n int
		err := isolate(ctx, e.itemTimeout(), func(ctx context.Context) error {
			var err error
			n, err = e.ingestOne(ctx, order)
			return err
		})
		if err != nil {
			e.log(ctx).WithError(err).WithField(logger.FieldProductUUID, order.ProductUUID).
				Warn("Failed to check remote job")
			continue
		}
		ingested += n
	}
	return ingested, nil
}

func (e *Engine) ingestOne(ctx context.Context, order *domain.Order) (int, error) {
	cached, err := e.cache.Has(ctx, order.ProductUUID)
	if err != nil {
		return 0, err
	}
	if cached {
		e.completeOrder(ctx, order.ProductUUID)
		return 1, nil
	}

	jobID := order.RemoteJobID()
	if jobID == "" {
		return e.resume(ctx, order)
	}

	job, err := e.adapter.PollStatus(ctx, jobID)
	if err != nil {
		return 0, err
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		if err := e.enqueueDownload(ctx, order.ProductUUID, job); err != nil {
			return 0, err
		}
		return 1, nil
	case domain.JobStatusFailed, domain.JobStatusCancelled:
		msg := job.Message
		if msg == "" {
			msg = "remote job failed"
		}
		e.failOrder(ctx, order.ProductUUID, domain.JobStatusRunning, msg)
		return 1, nil
	}

	if job.Message != order.StatusMessage || !sameTime(job.EstimatedCompletion, order.EstimatedCompletion) {
		if _, err := e.orders.RefreshOrCreate(ctx, order.ProductUUID, e.cfg.Name, jobID,
			domain.JobStatusRunning, job.EstimatedCompletion, job.Message); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// resume restarts a RUNNING order that has no remote job, left behind by an
// interrupted download of an already available product.
func (e *Engine) resume(ctx context.Context, order *domain.Order) (int, error) {
	product, err := e.catalog.ByUUID(ctx, order.ProductUUID)
	if err != nil {
		return 0, err
	}
	if product == nil {
		e.failOrder(ctx, order.ProductUUID, domain.JobStatusRunning, "Product not found")
		return 1, nil
	}

	job, err := e.submit(ctx, product)
	if err != nil {
		e.failOrder(ctx, order.ProductUUID, domain.JobStatusRunning, err.Error())
		return 1, nil
	}
	if job.Available {
		if err := e.enqueueDownload(ctx, order.ProductUUID, job); err != nil {
			return 0, err
		}
		return 1, nil
	}
	_, err = e.orders.RefreshOrCreate(ctx, order.ProductUUID, e.cfg.Name, job.JobID,
		domain.JobStatusRunning, job.EstimatedCompletion, job.Message)
	return 0, err
}

func (e *Engine) completeOrder(ctx context.Context, productUUID string) {
	ok, err := e.orders.Transition(context.WithoutCancel(ctx), e.cfg.Name, productUUID,
		domain.PredecessorsOf(domain.JobStatusCompleted), domain.JobStatusCompleted, "restored to cache")
	if err != nil {
		e.log(ctx).WithError(err).WithField(logger.FieldProductUUID, productUUID).Error("Failed to complete order")
		return
	}
	if ok {
		e.log(ctx).WithField(logger.FieldProductUUID, productUUID).Info("Order completed")
	}
}

func (e *Engine) failOrder(ctx context.Context, productUUID string, from domain.JobStatus, msg string) {
	log := e.log(ctx).WithField(logger.FieldProductUUID, productUUID)
	if !from.CanTransition(domain.JobStatusFailed) {
		log.Errorf("Refusing to fail order from status %s", from)
		return
	}
	ok, err := e.orders.Transition(context.WithoutCancel(ctx), e.cfg.Name, productUUID,
		[]domain.JobStatus{from}, domain.JobStatusFailed, msg)
	if err != nil {
		log.WithError(err).Error("Failed to mark order failed")
		return
	}
	if ok {
		e.metrics.OrdersFailed.WithLabelValues(e.cfg.Name).Inc()
		log.WithField(logger.FieldStatus, msg).Warn("Order failed")
	}
}

// Put always fails: products enter the cache only through orders.
func (e *Engine) Put(ctx context.Context, productUUID string, r io.Reader) error {
	return domain.NewError(domain.KindReadOnly, "put",
		fmt.Sprintf("store %s is a read-only cache of a remote archive", e.cfg.Name), nil)
}

// PatternReplaceIn maps a remote product name into the local namespace.
func (e *Engine) PatternReplaceIn(name string) string { return e.patternIn.apply(name) }

// PatternReplaceOut maps a local product name into the remote namespace.
func (e *Engine) PatternReplaceOut(name string) string { return e.patternOut.apply(name) }

// refreshGauges publishes queue depths and in-flight transfers.
func (e *Engine) refreshGauges(ctx context.Context) {
	if n, err := e.orders.CountByStatus(ctx, e.cfg.Name, domain.JobStatusPending); err == nil {
		e.metrics.QueuePending.WithLabelValues(e.cfg.Name).Set(float64(n))
	}
	if n, err := e.orders.CountByStatus(ctx, e.cfg.Name, domain.JobStatusRunning); err == nil {
		e.metrics.QueueRunning.WithLabelValues(e.cfg.Name).Set(float64(n))
	}
	e.metrics.ActiveDownload.WithLabelValues(e.cfg.Name).Set(float64(e.downloads.Active()))
}

func (e *Engine) itemTimeout() time.Duration {
	return 2 * e.cfg.SubmitTimeout
}

// Close stops transfers and cancels the store's PENDING orders. Orders that are
// RUNNING stay RUNNING and are picked up again after a restart.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	log := e.log(ctx)

	if dropped := e.downloads.ShutdownNow(); len(dropped) > 0 {
		log.WithField(logger.FieldCount, len(dropped)).Info("Dropped queued downloads")
	}

	cancelled, err := e.orders.CancelPending(ctx, e.cfg.Name, "store closed")
	if err != nil {
		log.WithError(err).Error("Failed to cancel pending orders")
	} else if cancelled > 0 {
		log.WithField(logger.FieldCount, cancelled).Info("Cancelled pending orders")
	}

	if cerr := e.adapter.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

type patternRule struct {
	re          *regexp.Regexp
	replacement string
}

func newPatternRule(cfg *config.PatternReplace) (*patternRule, error) {
	if cfg == nil || cfg.Pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	return &patternRule{re: re, replacement: cfg.Replacement}, nil
}

func (r *patternRule) apply(s string) string {
	if r == nil {
		return s
	}
	return r.re.ReplaceAllString(s, r.replacement)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
