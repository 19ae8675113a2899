package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/tiercache/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository is the durable order store. Orders are unique per (store, product).
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new OrderRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *OrderRepository: repository instance bound to db.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreatePending inserts a PENDING order for the product. If an order already exists
// for (store, productUUID) the existing row is returned unchanged.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - store: owning store name.
//   - productUUID: catalog identifier of the product.
//
// Returns:
//   - *domain.Order: the new or existing order.
//   - error: non-nil if the insert or lookup fails.
func (r *OrderRepository) CreatePending(ctx context.Context, store, productUUID string) (*domain.Order, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.New().String(),
		StoreName:     store,
		ProductUUID:   productUUID,
		Status:        domain.JobStatusPending,
		StatusMessage: "queued",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_name"}, {Name: "product_uuid"}},
		DoNothing: true,
	}).Create(order)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.Get(ctx, store, productUUID)
	}
	return order, nil
}

// Get retrieves the order for a product in a store. It returns (nil, nil) when
// there is none.
func (r *OrderRepository) Get(ctx context.Context, store, productUUID string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		First(&order, "store_name = ? AND product_uuid = ?", store, productUUID).Error
	return orderOrNil(&order, err)
}

// GetByID retrieves an order by its primary key, or (nil, nil).
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	return orderOrNil(&order, err)
}

// GetByJobID retrieves an order by its remote job identifier, or (nil, nil).
func (r *OrderRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).First(&order, "job_id = ?", jobID).Error
	return orderOrNil(&order, err)
}

// SetRunning moves a PENDING order to RUNNING. It reports false when the order was
// no longer PENDING, in which case nothing is written.
func (r *OrderRepository) SetRunning(ctx context.Context, store, productUUID, jobID string, eta *time.Time, message string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("store_name = ? AND product_uuid = ? AND status = ?", store, productUUID, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":               domain.JobStatusRunning,
			"job_id":               jobID,
			"estimated_completion": eta,
			"status_message":       message,
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set order running: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RefreshOrCreate writes the given state for (store, productUUID), creating the order
// if it does not exist yet.
func (r *OrderRepository) RefreshOrCreate(ctx context.Context, productUUID, store, jobID string, status domain.JobStatus, eta *time.Time, message string) (*domain.Order, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:                  uuid.New().String(),
		StoreName:           store,
		ProductUUID:         productUUID,
		Status:              status,
		EstimatedCompletion: eta,
		StatusMessage:       message,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if jobID != "" {
		order.JobID = &jobID
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_name"}, {Name: "product_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"job_id", "status", "estimated_completion", "status_message", "updated_at"}),
	}).Create(order).Error
	if err != nil {
		return nil, fmt.Errorf("failed to refresh order: %w", err)
	}
	return r.Get(ctx, store, productUUID)
}

// Transition moves an order from one of the given statuses to another. It reports
// false when the current status was not in from.
func (r *OrderRepository) Transition(ctx context.Context, store, productUUID string, from []domain.JobStatus, to domain.JobStatus, message string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("store_name = ? AND product_uuid = ? AND status IN ?", store, productUUID, from).
		Updates(map[string]interface{}{
			"status":         to,
			"status_message": message,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update order status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Requeue puts a terminal order back to PENDING, clearing its remote job.
func (r *OrderRepository) Requeue(ctx context.Context, store, productUUID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("store_name = ? AND product_uuid = ? AND status IN ?", store, productUUID, []domain.JobStatus{
			domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":               domain.JobStatusPending,
			"job_id":               nil,
			"estimated_completion": nil,
			"status_message":       "queued",
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to requeue order: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountByStatus counts the orders of a store in a given status.
func (r *OrderRepository) CountByStatus(ctx context.Context, store string, status domain.JobStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("store_name = ? AND status = ?", store, status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// ListByStatus lists the orders of a store in a given status, oldest first.
// A non-positive limit means no limit.
func (r *OrderRepository) ListByStatus(ctx context.Context, store string, status domain.JobStatus, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	query := r.db.WithContext(ctx).
		Where("store_name = ? AND status = ?", store, status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ListByStore lists the orders of a store, newest first.
func (r *OrderRepository) ListByStore(ctx context.Context, store string, limit, offset int) ([]domain.Order, error) {
	var orders []domain.Order
	if err := r.db.WithContext(ctx).
		Where("store_name = ?", store).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// CancelPending marks every PENDING order of a store CANCELLED.
func (r *OrderRepository) CancelPending(ctx context.Context, store, message string) (int64, error) {
	return r.forcePending(ctx, store, domain.JobStatusCancelled, message)
}

// FailPending marks every PENDING order of a store FAILED.
func (r *OrderRepository) FailPending(ctx context.Context, store, message string) (int64, error) {
	return r.forcePending(ctx, store, domain.JobStatusFailed, message)
}

func (r *OrderRepository) forcePending(ctx context.Context, store string, to domain.JobStatus, message string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("store_name = ? AND status = ?", store, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":         to,
			"status_message": message,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update pending orders: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func orderOrNil(order *domain.Order, err error) (*domain.Order, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}
