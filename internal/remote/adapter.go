// Package remote defines the contract between the cache engine and a remote archive.
package remote

import (
	"context"
	"io"
	"time"

	"github.com/timmy/tiercache/internal/domain"
)

// SubmitRequest asks a remote archive to make a product retrievable.
type SubmitRequest struct {
	// LocalID is the product name in the local namespace.
	LocalID string
	// RemoteID is the product name as the remote knows it.
	RemoteID    string
	ProductUUID string
	Size        int64
}

// JobHandle is what the engine keeps about a remote retrieval job.
type JobHandle struct {
	JobID string
	// RemoteID identifies the product on the remote when no job was needed.
	RemoteID            string
	Status              domain.JobStatus
	EstimatedCompletion *time.Time
	Message             string
	// Available means the product can be downloaded right away without polling.
	Available bool
}

// Adapter is implemented once per remote archive family.
type Adapter interface {
	// Name returns the adapter kind, used in logs.
	Name() string

	// Submit places a retrieval request with the remote.
	Submit(ctx context.Context, req SubmitRequest) (*JobHandle, error)

	// PollStatus returns the current state of a job, translated to JobStatus.
	PollStatus(ctx context.Context, jobID string) (*JobHandle, error)

	// Download opens the payload of a completed job. The size is -1 when unknown.
	Download(ctx context.Context, job *JobHandle) (io.ReadCloser, int64, error)

	// Close releases connections held by the adapter.
	Close() error
}
