package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/source"
)

// CatalogWriter is the part of the product repository used by imports.
type CatalogWriter interface {
	ByUUID(ctx context.Context, id string) (*domain.Product, error)
	Upsert(ctx context.Context, product *domain.Product) error
}

// CatalogImporter loads product records from a source into the catalog.
type CatalogImporter struct {
	repo      CatalogWriter
	logger    *logger.Logger
	workers   int
	batchSize int
}

// ImportConfig holds configuration for the importer
type ImportConfig struct {
	Workers   int
	BatchSize int
}

// NewCatalogImporter creates a new importer
func NewCatalogImporter(repo CatalogWriter, log *logger.Logger, cfg *ImportConfig) *CatalogImporter {
	workers, batch := cfg.Workers, cfg.BatchSize
	if workers <= 0 {
		workers = 4
	}
	if batch <= 0 {
		batch = 100
	}
	return &CatalogImporter{
		repo:      repo,
		logger:    log,
		workers:   workers,
		batchSize: batch,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *CatalogImporter) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// ImportStats holds statistics for an import run
type ImportStats struct {
	TotalItems     int64
	ProcessedItems int64
	SkippedItems   int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// ImportOptions holds options for an import
type ImportOptions struct {
	Force bool // Overwrite products that are already in the catalog
}

// ImportFromSource reads up to limit products from src. A limit <= 0 imports everything.
func (s *CatalogImporter) ImportFromSource(ctx context.Context, src source.Source, limit int, opts *ImportOptions) (*ImportStats, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	stats := &ImportStats{
		StartTime: time.Now(),
	}

	s.log(ctx).WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
		"force":  opts.Force,
	}).Info("Starting catalog import")

	itemsChan := make(chan source.ProductItem, s.workers*2)
	resultsChan := make(chan *importResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.skipped {
				atomic.AddInt64(&stats.SkippedItems, 1)
			} else if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithField(logger.FieldProductUUID, result.uuid).
					WithError(result.err).Error("Failed to import product")
			}
		}
		close(done)
	}()

	var fetchErr error
	cursor := ""
	totalFetched := 0
	for ctx.Err() == nil {
		batchLimit := s.batchSize
		if limit > 0 {
			remaining := limit - totalFetched
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			fetchErr = fmt.Errorf("failed to fetch batch: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()

	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Catalog import completed")

	return stats, fetchErr
}

type importResult struct {
	uuid    string
	skipped bool
	err     error
}

func (s *CatalogImporter) worker(ctx context.Context, items <-chan source.ProductItem, results chan<- *importResult, opts *ImportOptions) {
	for item := range items {
		if ctx.Err() != nil {
			results <- &importResult{uuid: item.UUID, err: ctx.Err()}
			continue
		}

		result := &importResult{uuid: item.UUID}
		existing, err := s.repo.ByUUID(ctx, item.UUID)
		switch {
		case err != nil:
			result.err = fmt.Errorf("failed to check existence: %w", err)
		case existing != nil && !opts.Force:
			result.skipped = true
		default:
			result.err = s.repo.Upsert(ctx, &domain.Product{
				UUID:       item.UUID,
				Identifier: item.Identifier,
				Size:       item.Size,
				Checksums:  parseChecksum(item.Checksum),
			})
		}
		results <- result
	}
}

// parseChecksum reads "md5:abcd" style values. A bare digest is assumed to be MD5.
func parseChecksum(raw string) domain.Checksums {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if alg, digest, ok := strings.Cut(raw, ":"); ok {
		return domain.Checksums{strings.ToLower(alg): strings.ToLower(digest)}
	}
	return domain.Checksums{"md5": strings.ToLower(raw)}
}
