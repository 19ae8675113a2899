package cache

import (
	"io"
	"os"
	"time"

	"github.com/timmy/tiercache/internal/domain"
)

// Entry is a product materialized in the disk cache.
type Entry struct {
	ID        string           `json:"id"`
	Size      int64            `json:"size"`
	Checksums domain.Checksums `json:"checksums"`
	StoredAt  time.Time        `json:"stored_at"`

	path       string
	lastAccess time.Time
}

func (e *Entry) GetUUID() string { return e.ID }
func (e *Entry) GetName() string { return e.ID }
func (e *Entry) GetSize() int64  { return e.Size }

// Open returns a reader over the cached bytes. The caller closes it.
func (e *Entry) Open() (io.ReadCloser, error) {
	return os.Open(e.path)
}

var _ domain.Streamable = (*Entry)(nil)
