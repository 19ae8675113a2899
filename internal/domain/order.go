package domain

import "time"

// JobStatus represents the status of a retrieval order.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed
// and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next during normal
// processing. Forced failures (administrative or shutdown) bypass this check.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusRunning || next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// PredecessorsOf lists the statuses an order may leave for next, for use as the
// guard of a conditional update.
func PredecessorsOf(next JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	return from
}

// Order is the durable record of one retrieval request for a product from a store.
// At most one order exists per (StoreName, ProductUUID).
type Order struct {
	ID                  string     `gorm:"type:text;primaryKey" json:"id"`
	StoreName           string     `gorm:"type:text;not null;uniqueIndex:idx_order_store_product;index:idx_order_store_status" json:"store_name"`
	ProductUUID         string     `gorm:"type:text;not null;uniqueIndex:idx_order_store_product" json:"product_uuid"`
	JobID               *string    `gorm:"type:text;index" json:"job_id,omitempty"`
	Status              JobStatus  `gorm:"type:text;not null;default:pending;index:idx_order_store_status" json:"status"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	StatusMessage       string     `gorm:"type:text" json:"status_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string {
	return "orders"
}

// RemoteJobID returns the remote job identifier, or "" while the order is pending.
func (o *Order) RemoteJobID() string {
	if o.JobID == nil {
		return ""
	}
	return *o.JobID
}
