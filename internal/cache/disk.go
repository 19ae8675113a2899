package cache

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/logger"
)

const (
	partSuffix = ".part"
	metaSuffix = ".json"
)

// ErrNotCached is returned by Get when the product is not in the cache.
var ErrNotCached = errors.New("product not in cache")

// Options configures a DiskStore.
type Options struct {
	Dir     string
	MaxSize int64
	// Eviction starts once usage exceeds HighWaterPercentage of MaxSize and stops
	// at LowWaterPercentage.
	HighWaterPercentage int
	LowWaterPercentage  int
	// OnEvict is called, outside any lock, for every product dropped by eviction.
	OnEvict func(id string)
}

// DiskStore is a capacity-bounded cache of products on local disk. Each product is
// one data file plus a JSON sidecar holding its size and checksums, sharded by the
// first two hex digits of the MD5 of its id.
type DiskStore struct {
	dir       string
	maxSize   int64
	highWater int64
	lowWater  int64
	onEvict   func(id string)

	mu      sync.Mutex
	entries map[string]*Entry
	usage   int64

	locks keyLocks
}

// Open creates the cache directory if needed and indexes what is already on disk.
func Open(opts Options) (*DiskStore, error) {
	if opts.MaxSize <= 0 {
		return nil, errors.New("cache max size must be positive")
	}
	high, low := opts.HighWaterPercentage, opts.LowWaterPercentage
	if high <= 0 || high > 100 {
		high = 95
	}
	if low <= 0 || low >= high {
		low = high * 9 / 10
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory %s", opts.Dir)
	}

	s := &DiskStore{
		dir:       opts.Dir,
		maxSize:   opts.MaxSize,
		highWater: opts.MaxSize * int64(high) / 100,
		lowWater:  opts.MaxSize * int64(low) / 100,
		onEvict:   opts.OnEvict,
		entries:   make(map[string]*Entry),
		locks:     keyLocks{locks: make(map[string]*keyLock)},
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan rebuilds the index from sidecars and removes leftovers of interrupted writes.
func (s *DiskStore) scan() error {
	return filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(path, partSuffix):
			logger.GetDefault().WithField("path", path).Warn("Removing interrupted cache write")
			return os.Remove(path)
		case strings.HasSuffix(path, metaSuffix):
			entry, err := readSidecar(path)
			if err != nil {
				logger.GetDefault().WithError(err).WithField("path", path).Warn("Ignoring unreadable cache sidecar")
				return nil
			}
			entry.path = strings.TrimSuffix(path, metaSuffix)
			if _, err := os.Stat(entry.path); err != nil {
				logger.GetDefault().WithField("path", entry.path).Warn("Cache sidecar without data, removing")
				return os.Remove(path)
			}
			entry.lastAccess = entry.StoredAt
			s.entries[entry.ID] = entry
			s.usage += entry.Size
		}
		return nil
	})
}

func readSidecar(path string) (*Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, errors.New("sidecar has no id")
	}
	return &entry, nil
}

func (s *DiskStore) dataPath(id string) string {
	sum := md5.Sum([]byte(id))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, name[:2], name)
}

// Has reports whether the product is cached.
func (s *DiskStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok, nil
}

// Get returns the cached entry and records the access for eviction ordering.
func (s *DiskStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotCached
	}
	entry.lastAccess = time.Now()
	copied := *entry
	return &copied, nil
}

// Set streams r into the cache under id. It fails with domain.ErrAlreadyExists if the
// product is already cached. Nothing becomes visible unless the whole stream was
// written; writes for the same id are serialized.
func (s *DiskStore) Set(ctx context.Context, id string, r io.Reader) (*Entry, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	if ok, _ := s.Has(ctx, id); ok {
		return nil, domain.ErrAlreadyExists
	}

	path := s.dataPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache shard")
	}

	tmp := path + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cache file")
	}

	md5Hash := md5.New()
	shaHash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, md5Hash, shaHash), &ctxReader{ctx: ctx, r: r})
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, errors.Wrapf(err, "failed to write %s to cache", id)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:   id,
		Size: size,
		Checksums: domain.Checksums{
			"md5":    hex.EncodeToString(md5Hash.Sum(nil)),
			"sha256": hex.EncodeToString(shaHash.Sum(nil)),
		},
		StoredAt:   now,
		path:       path,
		lastAccess: now,
	}

	meta, err := json.Marshal(entry)
	if err != nil {
		os.Remove(tmp)
		return nil, errors.Wrap(err, "failed to encode cache sidecar")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrap(err, "failed to commit cache file")
	}
	if err := os.WriteFile(path+metaSuffix, meta, 0644); err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "failed to write cache sidecar")
	}

	s.mu.Lock()
	s.entries[id] = entry
	s.usage += size
	s.mu.Unlock()

	s.evictIfNeeded(id)

	copied := *entry
	return &copied, nil
}

// Delete removes a product from the cache. Deleting a missing product is not an error.
func (s *DiskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		s.usage -= entry.Size
	}
	s.mu.Unlock()

	path := s.dataPath(id)
	for _, p := range []string{path, path + metaSuffix, path + partSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to delete %s", p)
		}
	}
	return nil
}

// CurrentSize returns the bytes used by cached products.
func (s *DiskStore) CurrentSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// MaximumSize returns the configured capacity in bytes.
func (s *DiskStore) MaximumSize() int64 {
	return s.maxSize
}

// evictIfNeeded drops least recently used products until usage falls to the low
// watermark. keep is never evicted.
func (s *DiskStore) evictIfNeeded(keep string) {
	s.mu.Lock()
	if s.usage <= s.highWater {
		s.mu.Unlock()
		return
	}
	candidates := make([]*Entry, 0, len(s.entries))
	for id, e := range s.entries {
		if id != keep {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	target := s.usage - s.lowWater
	var victims []string
	for _, e := range candidates {
		if target <= 0 {
			break
		}
		victims = append(victims, e.ID)
		target -= e.Size
	}
	s.mu.Unlock()

	for _, id := range victims {
		if err := s.Delete(context.Background(), id); err != nil {
			logger.GetDefault().WithError(err).WithField(logger.FieldProductUUID, id).Error("Failed to evict product")
			continue
		}
		logger.GetDefault().WithField(logger.FieldProductUUID, id).Info("Evicted product from cache")
		if s.onEvict != nil {
			s.onEvict(id)
		}
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
