package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/service"
	"github.com/timmy/tiercache/internal/source"
)

// AdminHandler handles catalog administration.
type AdminHandler struct {
	importer *service.CatalogImporter
	sources  map[string]source.Source

	// Import job state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.ImportStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - importer: catalog importer.
//   - sources: staging sources keyed by id.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(importer *service.CatalogImporter, sources map[string]source.Source) *AdminHandler {
	return &AdminHandler{
		importer: importer,
		sources:  sources,
	}
}

// ImportRequest represents the import API request.
type ImportRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"min=0"`
	Force  bool   `json:"force"`
}

// ImportResponse represents the import API response.
type ImportResponse struct {
	Message string               `json:"message"`
	Stats   *service.ImportStats `json:"stats,omitempty"`
}

// ImportStatusResponse represents the import status.
type ImportStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.ImportStats `json:"current_stats,omitempty"`
}

// ListSources handles GET /api/v1/admin/sources.
func (h *AdminHandler) ListSources(c *gin.Context) {
	ids := make([]string, 0, len(h.sources))
	for id := range h.sources {
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{"sources": ids})
}

// TriggerImport handles POST /api/v1/admin/import. The import runs to completion
// even if the client goes away.
func (h *AdminHandler) TriggerImport(c *gin.Context) {
	ctx := c.Request.Context()

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid import request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s, client_ip=%s", req.Source, c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source: " + req.Source})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Import request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, gin.H{"error": "Import is already running"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting catalog import: source=%s, limit=%d, force=%v",
		req.Source, req.Limit, req.Force)

	startTime := time.Now()
	stats, err := h.importer.ImportFromSource(context.WithoutCancel(ctx), src, req.Limit, &service.ImportOptions{
		Force: req.Force,
	})
	duration := time.Since(startTime)

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{"source": req.Source}).WithDuration(duration).
			Error(ctx, "Catalog import failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.With(logger.Fields{"source": req.Source}).WithDuration(duration).WithCount(stats.ProcessedItems).
		Info(ctx, "Catalog import completed: total=%d, skipped=%d, failed=%d",
			stats.TotalItems, stats.SkippedItems, stats.FailedItems)

	c.JSON(http.StatusOK, ImportResponse{
		Message: "Import completed successfully",
		Stats:   stats,
	})
}

// GetImportStatus handles GET /api/v1/admin/import/status.
func (h *AdminHandler) GetImportStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := ImportStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
