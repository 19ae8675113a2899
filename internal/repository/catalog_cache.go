package repository

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/timmy/tiercache/internal/domain"
)

// CachedCatalog memoizes catalog lookups for a short TTL. Only hits are cached so a
// freshly imported product is visible immediately.
type CachedCatalog struct {
	repo         *ProductRepository
	byUUID       *ttlcache.Cache[string, domain.Product]
	byIdentifier *ttlcache.Cache[string, string]
}

// NewCachedCatalog wraps repo with a TTL cache. Call Start to run expiry in the
// background and Stop to end it.
func NewCachedCatalog(repo *ProductRepository, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		repo: repo,
		byUUID: ttlcache.New(
			ttlcache.WithTTL[string, domain.Product](ttl),
			ttlcache.WithDisableTouchOnHit[string, domain.Product](),
		),
		byIdentifier: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// Start runs the expiry loops. It returns immediately.
func (c *CachedCatalog) Start() {
	go c.byUUID.Start()
	go c.byIdentifier.Start()
}

// Stop ends the expiry loops.
func (c *CachedCatalog) Stop() {
	c.byUUID.Stop()
	c.byIdentifier.Stop()
}

// ByUUID returns the product with the given UUID, or (nil, nil).
func (c *CachedCatalog) ByUUID(ctx context.Context, id string) (*domain.Product, error) {
	if item := c.byUUID.Get(id); item != nil {
		p := item.Value()
		return &p, nil
	}
	p, err := c.repo.ByUUID(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	c.remember(p)
	return p, nil
}

// ByIdentifier returns the product with the given logical name, or (nil, nil).
func (c *CachedCatalog) ByIdentifier(ctx context.Context, name string) (*domain.Product, error) {
	if item := c.byIdentifier.Get(name); item != nil {
		return c.ByUUID(ctx, item.Value())
	}
	p, err := c.repo.ByIdentifier(ctx, name)
	if err != nil || p == nil {
		return p, err
	}
	c.remember(p)
	return p, nil
}

// MarkRestored updates the catalog and drops the cached record.
func (c *CachedCatalog) MarkRestored(ctx context.Context, id string, size int64, checksums domain.Checksums) error {
	defer c.forget(id)
	return c.repo.MarkRestored(ctx, id, size, checksums)
}

// MarkEvicted updates the catalog and drops the cached record.
func (c *CachedCatalog) MarkEvicted(ctx context.Context, id string) error {
	defer c.forget(id)
	return c.repo.MarkEvicted(ctx, id)
}

func (c *CachedCatalog) remember(p *domain.Product) {
	c.byUUID.Set(p.UUID, *p, ttlcache.DefaultTTL)
	c.byIdentifier.Set(p.Identifier, p.UUID, ttlcache.DefaultTTL)
}

func (c *CachedCatalog) forget(id string) {
	if item := c.byUUID.Get(id); item != nil {
		c.byIdentifier.Delete(item.Value().Identifier)
	}
	c.byUUID.Delete(id)
}
