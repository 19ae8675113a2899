package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/logger"
)

// maxIngestPasses bounds how many zero-progress checks a single run may need.
const maxIngestPasses = 100

// Reconciler periodically starts PENDING orders and ingests finished remote jobs for
// one store. Runs never overlap; a tick that arrives during a run is skipped.
type Reconciler struct {
	engine  *Engine
	period  time.Duration
	trigger chan struct{}
	running atomic.Bool
	logger  *logger.Logger
}

// NewReconciler creates the reconciliation task of an engine.
func NewReconciler(engine *Engine, period time.Duration) *Reconciler {
	if period <= 0 {
		period = time.Minute
	}
	return &Reconciler{
		engine:  engine,
		period:  period,
		trigger: make(chan struct{}, 1),
		logger:  engine.logger.WithField(logger.FieldComponent, "reconciler"),
	}
}

// Launch runs the reconciliation loop in egrp until ctx is cancelled.
func (r *Reconciler) Launch(ctx context.Context, egrp *errgroup.Group) {
	egrp.Go(func() error {
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()

		r.logger.WithField("period", r.period.String()).Info("Reconciliation started")
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Reconciliation stopped")
				return nil
			case <-ticker.C:
			case <-r.trigger:
			}
			r.RunOnce(ctx)
		}
	})
}

// Trigger requests a run as soon as the loop is idle.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// RunOnce performs one reconciliation pass. It returns false without doing anything
// when another pass is still in progress.
func (r *Reconciler) RunOnce(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("Reconciliation still running, skipping")
		return false
	}
	defer r.running.Store(false)

	start := time.Now()
	stats := r.engine.downloads.CheckProductDownloads()

	started := r.drainPending(ctx)
	ingested := r.drainCompleted(ctx)

	r.engine.refreshGauges(ctx)
	elapsed := time.Since(start)
	r.engine.metrics.ReconcileTime.WithLabelValues(r.engine.Name()).Observe(elapsed.Seconds())

	if started > 0 || ingested > 0 || stats.Completed > 0 || stats.Failed > 0 {
		r.logger.WithFields(logger.Fields{
			"started":              started,
			"ingested":             ingested,
			"downloads_completed":  stats.Completed,
			"downloads_failed":     stats.Failed,
			logger.FieldDurationMs: elapsed.Milliseconds(),
		}).Info("Reconciliation pass finished")
	}
	return true
}

// drainPending starts PENDING orders oldest first until the running quota is full.
func (r *Reconciler) drainPending(ctx context.Context) int {
	e := r.engine
	orders, err := e.orders.ListByStatus(ctx, e.Name(), domain.JobStatusPending, 0)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list pending orders")
		return 0
	}

	started := 0
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		order := &orders[i]
		err := isolate(ctx, e.itemTimeout(), func(ctx context.Context) error {
			return e.StartOrder(ctx, order)
		})
		if domain.IsKind(err, domain.KindMaxRunning) {
			break
		}
		if err != nil {
			r.logger.WithError(err).WithField(logger.FieldProductUUID, order.ProductUUID).
				Warn("Failed to start order")
			continue
		}
		started++
	}
	return started
}

// drainCompleted ingests finished jobs until a pass makes no progress.
func (r *Reconciler) drainCompleted(ctx context.Context) int {
	total := 0
	for pass := 0; pass < maxIngestPasses && ctx.Err() == nil; pass++ {
		n, err := r.engine.IngestCompletedFetches(ctx)
		if err != nil {
			r.logger.WithError(err).Error("Failed to ingest completed fetches")
			break
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

// isolate runs fn with its own timeout and turns a panic into an error, so one bad
// item cannot stop a drain loop.
func isolate(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
