package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/tiercache/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductRepository is the product catalog: every product known to exist in a remote
// archive, with its online (cached) state.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new ProductRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ProductRepository: repository instance bound to db.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Upsert creates or updates a catalog record keyed by UUID. Online state and
// checksums of an existing record are preserved.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - product: record to create or update.
//
// Returns:
//   - error: non-nil if the upsert fails.
func (r *ProductRepository) Upsert(ctx context.Context, product *domain.Product) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"identifier", "size", "updated_at"}),
	}).Create(product).Error
}

// ByUUID retrieves a product by UUID. It returns (nil, nil) when the product is unknown.
func (r *ProductRepository) ByUUID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := r.db.WithContext(ctx).First(&product, "uuid = ?", id).Error
	return productOrNil(&product, err)
}

// ByIdentifier retrieves a product by its logical name, or (nil, nil).
func (r *ProductRepository) ByIdentifier(ctx context.Context, name string) (*domain.Product, error) {
	var product domain.Product
	err := r.db.WithContext(ctx).First(&product, "identifier = ?", name).Error
	return productOrNil(&product, err)
}

// MarkRestored flags a product online after it was written to the cache.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: product UUID.
//   - size: size in bytes of the cached copy.
//   - checksums: digests computed while caching.
//
// Returns:
//   - error: non-nil if the update fails or the product is unknown.
func (r *ProductRepository) MarkRestored(ctx context.Context, id string, size int64, checksums domain.Checksums) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("uuid = ?", id).
		Updates(map[string]interface{}{
			"online":      true,
			"size":        size,
			"checksums":   checksums,
			"restored_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark product restored: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to mark product restored: %s not in catalog", id)
	}
	return nil
}

// MarkEvicted flags a product offline after the cache dropped it.
func (r *ProductRepository) MarkEvicted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("uuid = ?", id).
		Updates(map[string]interface{}{
			"online":     false,
			"evicted_at": now,
			"updated_at": now,
		}).Error
}

// List retrieves catalog records with pagination, optionally only online ones.
func (r *ProductRepository) List(ctx context.Context, onlineOnly bool, limit, offset int) ([]domain.Product, error) {
	var products []domain.Product
	query := r.db.WithContext(ctx)
	if onlineOnly {
		query = query.Where("online = ?", true)
	}
	if err := query.
		Order("identifier ASC").
		Limit(limit).
		Offset(offset).
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// CountOnline counts the products currently flagged online.
func (r *ProductRepository) CountOnline(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Product{}).Where("online = ?", true).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func productOrNil(product *domain.Product, err error) (*domain.Product, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}
