package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(newTestDB(t))

	o, err := repo.CreatePending(ctx, "lta", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, o.Status)

	again, err := repo.CreatePending(ctx, "lta", "p1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, again.ID)

	// same product in another store is a separate order
	other, err := repo.CreatePending(ctx, "glacier", "p1")
	require.NoError(t, err)
	assert.NotEqual(t, o.ID, other.ID)

	n, err := repo.CountByStatus(ctx, "lta", domain.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	eta := time.Now().Add(time.Hour).UTC()
	ok, err := repo.SetRunning(ctx, "lta", "p1", "job-1", &eta, "submitted")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetRunning(ctx, "lta", "p1", "job-2", nil, "submitted")
	require.NoError(t, err)
	assert.False(t, ok, "second start must not overwrite a running order")

	got, err := repo.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, "job-1", got.RemoteJobID())
	require.NotNil(t, got.EstimatedCompletion)

	ok, err = repo.Transition(ctx, "lta", "p1", []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusFailed, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Transition(ctx, "lta", "p1", []domain.JobStatus{domain.JobStatusRunning}, domain.JobStatusCompleted, "done")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Requeue(ctx, "lta", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = repo.Get(ctx, "lta", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Nil(t, got.JobID)
	assert.Equal(t, o.ID, got.ID)

	missing, err := repo.Get(ctx, "lta", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOrderRepository_RefreshOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(newTestDB(t))

	o, err := repo.RefreshOrCreate(ctx, "p1", "lta", "", domain.JobStatusCompleted, nil, "product already cached")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, o.Status)
	assert.Nil(t, o.JobID)

	o2, err := repo.RefreshOrCreate(ctx, "p1", "lta", "job-9", domain.JobStatusRunning, nil, "restoring")
	require.NoError(t, err)
	assert.Equal(t, o.ID, o2.ID)
	assert.Equal(t, domain.JobStatusRunning, o2.Status)
	assert.Equal(t, "job-9", o2.RemoteJobID())
	assert.Equal(t, "restoring", o2.StatusMessage)
}

func TestOrderRepository_ListAndForce(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(newTestDB(t))

	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.CreatePending(ctx, "lta", id)
		require.NoError(t, err)
	}
	_, err := repo.SetRunning(ctx, "lta", "a", "job-a", nil, "")
	require.NoError(t, err)

	pending, err := repo.ListByStatus(ctx, "lta", domain.JobStatusPending, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := repo.ListByStore(ctx, "lta", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := repo.FailPending(ctx, "lta", "operator")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CancelPending(ctx, "lta", "store closed")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	running, err := repo.CountByStatus(ctx, "lta", domain.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, int64(1), running)
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, &domain.Product{UUID: "p1", Identifier: "S2A_1", Size: 10}))
	require.NoError(t, repo.Upsert(ctx, &domain.Product{UUID: "p2", Identifier: "S2A_2", Size: 20}))

	p, err := repo.ByIdentifier(ctx, "S2A_2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p2", p.UUID)

	missing, err := repo.ByUUID(ctx, "zz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	sums := domain.Checksums{"md5": "abc"}
	require.NoError(t, repo.MarkRestored(ctx, "p1", 11, sums))
	assert.Error(t, repo.MarkRestored(ctx, "zz", 1, nil))

	p, err = repo.ByUUID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Equal(t, int64(11), p.Size)
	assert.Equal(t, sums, p.Checksums)
	assert.NotNil(t, p.RestoredAt)

	// re-import keeps the online state
	require.NoError(t, repo.Upsert(ctx, &domain.Product{UUID: "p1", Identifier: "S2A_1", Size: 11}))
	online, err := repo.CountOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), online)

	list, err := repo.List(ctx, true, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].UUID)

	require.NoError(t, repo.MarkEvicted(ctx, "p1"))
	online, err = repo.CountOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), online)
}

func TestCachedCatalog(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(newTestDB(t))
	require.NoError(t, repo.Upsert(ctx, &domain.Product{UUID: "p1", Identifier: "S2A_1", Size: 10}))

	c := NewCachedCatalog(repo, time.Minute)
	c.Start()
	defer c.Stop()

	p, err := c.ByIdentifier(ctx, "S2A_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Online)

	require.NoError(t, c.MarkRestored(ctx, "p1", 10, nil))
	p, err = c.ByUUID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Online, "restore must invalidate the cached record")

	missing, err := c.ByUUID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	require.NoError(t, repo.Upsert(ctx, &domain.Product{UUID: "nope", Identifier: "NEW", Size: 1}))
	p, err = c.ByUUID(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, p, "misses are not cached")
}
