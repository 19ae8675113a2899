// Package s3archive retrieves products from S3 archive storage classes by requesting a
// temporary restore and downloading the restored copy.
package s3archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/remote"
	"github.com/timmy/tiercache/internal/storage"
)

// Restore states derived from object metadata.
const (
	stateOngoing  = "ongoing"
	stateRestored = "restored"
	stateMissing  = "missing"
)

// Statuses is the restore vocabulary of the archive.
var Statuses = remote.StatusMap{
	stateOngoing:  domain.JobStatusRunning,
	stateRestored: domain.JobStatusCompleted,
	stateMissing:  domain.JobStatusFailed,
}

// Adapter implements remote.Adapter for an archive bucket. The job id of a restore is
// the object key.
type Adapter struct {
	store storage.ArchiveStorage
}

// New wraps archive storage as a remote adapter.
func New(store storage.ArchiveStorage) *Adapter {
	return &Adapter{store: store}
}

func (a *Adapter) Name() string { return "s3" }
func (a *Adapter) Close() error { return nil }

// Submit requests a restore unless the object is readable already.
func (a *Adapter) Submit(ctx context.Context, req remote.SubmitRequest) (*remote.JobHandle, error) {
	status, err := a.store.Stat(ctx, req.RemoteID)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("object %s not found in archive", req.RemoteID)
		}
		return nil, err
	}
	if status.Readable() {
		return &remote.JobHandle{
			RemoteID:  req.RemoteID,
			Status:    domain.JobStatusRunning,
			Message:   "object readable in " + status.StorageClass,
			Available: true,
		}, nil
	}

	if !status.RestoreRequested {
		if err := a.store.Restore(ctx, req.RemoteID); err != nil {
			return nil, err
		}
	}
	return &remote.JobHandle{
		JobID:    req.RemoteID,
		RemoteID: req.RemoteID,
		Status:   domain.JobStatusRunning,
		Message:  "restore requested",
	}, nil
}

// PollStatus reads the restore state from the object metadata.
func (a *Adapter) PollStatus(ctx context.Context, jobID string) (*remote.JobHandle, error) {
	state := stateOngoing
	status, err := a.store.Stat(ctx, jobID)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		state = stateMissing
	case err != nil:
		return nil, err
	case status.Readable():
		state = stateRestored
	}

	st, note := Statuses.Translate(state)
	job := &remote.JobHandle{
		JobID:    jobID,
		RemoteID: jobID,
		Status:   st,
		Message:  state,
	}
	if note != "" {
		job.Message = note
	}
	if status != nil && status.RestoredUntil != nil {
		job.Message = fmt.Sprintf("%s until %s", state, status.RestoredUntil.Format("2006-01-02T15:04:05Z07:00"))
	}
	return job, nil
}

// Download opens the restored object.
func (a *Adapter) Download(ctx context.Context, job *remote.JobHandle) (io.ReadCloser, int64, error) {
	key := job.RemoteID
	if key == "" {
		key = job.JobID
	}
	return a.store.Download(ctx, key)
}

var _ remote.Adapter = (*Adapter)(nil)
