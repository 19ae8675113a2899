package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/download"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/remote"
)

// AdapterFactory builds the remote adapter of a store.
type AdapterFactory func(cfg *config.StoreConfig) (remote.Adapter, error)

// SharedDeps are shared by every store of a StoreManager.
type SharedDeps struct {
	Orders  OrderStore
	Cache   CacheStore
	Catalog Catalog
	Metrics *Metrics
	Logger  *logger.Logger
}

// StoreManager owns the engines and reconcilers of all configured stores.
type StoreManager struct {
	engines     map[string]*Engine
	reconcilers map[string]*Reconciler
	logger      *logger.Logger
}

// NewStoreManager builds one engine, download manager and reconciler per store.
// Parameters:
//   - stores: store configurations with defaults applied.
//   - deps: collaborators shared by all stores.
//   - newAdapter: factory for remote adapters.
//
// Returns:
//   - *StoreManager: manager holding every store.
//   - error: non-nil if any store cannot be built; stores built so far are closed.
func NewStoreManager(stores []config.StoreConfig, deps SharedDeps, newAdapter AdapterFactory) (*StoreManager, error) {
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	m := &StoreManager{
		engines:     make(map[string]*Engine, len(stores)),
		reconcilers: make(map[string]*Reconciler, len(stores)),
		logger:      log,
	}

	for i := range stores {
		cfg := stores[i]
		adapter, err := newAdapter(&cfg)
		if err != nil {
			m.Close(context.Background())
			return nil, err
		}
		engine, err := NewEngine(cfg, EngineDeps{
			Orders:    deps.Orders,
			Cache:     deps.Cache,
			Catalog:   deps.Catalog,
			Adapter:   adapter,
			Downloads: download.NewManager(cfg.Name, cfg.MaxConcurrentDownloads),
			Metrics:   deps.Metrics,
			Logger:    log,
		})
		if err != nil {
			adapter.Close()
			m.Close(context.Background())
			return nil, err
		}
		m.engines[cfg.Name] = engine
		m.reconcilers[cfg.Name] = NewReconciler(engine, cfg.ReconcilePeriod)

		log.WithFields(logger.Fields{
			logger.FieldStore: cfg.Name,
			"type":            cfg.Type,
			"adapter":         adapter.Name(),
		}).Info("Store configured")
	}
	return m, nil
}

// Launch starts every reconciler in egrp. Each runs once immediately to pick up orders
// left over from a previous run.
func (m *StoreManager) Launch(ctx context.Context, egrp *errgroup.Group) {
	for _, r := range m.reconcilers {
		r.Launch(ctx, egrp)
		r.Trigger()
	}
}

// Store returns the engine of a store.
func (m *StoreManager) Store(name string) (*Engine, bool) {
	e, ok := m.engines[name]
	return e, ok
}

// Reconciler returns the reconciliation task of a store.
func (m *StoreManager) Reconciler(name string) (*Reconciler, bool) {
	r, ok := m.reconcilers[name]
	return r, ok
}

// Names lists the configured stores in sorted order.
func (m *StoreManager) Names() []string {
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every store. Reconcilers must have been stopped by cancelling the
// context passed to Launch.
func (m *StoreManager) Close(ctx context.Context) error {
	var errs []error
	for _, name := range m.Names() {
		if err := m.engines[name].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
