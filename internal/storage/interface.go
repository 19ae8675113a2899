package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStatus describes an archived object and the state of its restore copy.
type ObjectStatus struct {
	Key          string
	Size         int64
	StorageClass string
	// Archived is true for storage classes that require a restore before reading.
	Archived bool
	// RestoreOngoing is true while a restore request is being processed.
	RestoreOngoing bool
	// RestoreRequested is true once any restore has been requested.
	RestoreRequested bool
	// RestoredUntil is when the temporary restored copy expires.
	RestoredUntil *time.Time
}

// Readable reports whether the object can be downloaded right now.
func (s *ObjectStatus) Readable() bool {
	if !s.Archived {
		return true
	}
	return s.RestoreRequested && !s.RestoreOngoing
}

// ArchiveStorage is cold object storage that serves objects after a restore.
type ArchiveStorage interface {
	// Stat returns the object status, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (*ObjectStatus, error)

	// Restore requests a temporary readable copy of an archived object.
	Restore(ctx context.Context, key string) error

	// Download opens the object for reading. The caller closes the stream.
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)
}
