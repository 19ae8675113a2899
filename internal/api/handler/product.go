package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/service"
)

// ProductStore is the part of a store engine served over HTTP.
type ProductStore interface {
	Get(ctx context.Context, productUUID string) (domain.ProductInfo, error)
	Fetch(ctx context.Context, req service.FetchRequest) (*domain.Order, error)
	Order(ctx context.Context, productUUID string) (*domain.Order, error)
	Resolve(ctx context.Context, remoteName string) (*domain.Product, error)
	Put(ctx context.Context, productUUID string, r io.Reader) error
}

// StoreLookup returns the store with the given name.
type StoreLookup func(name string) (ProductStore, bool)

// ProductHandler handles product endpoints of every store.
type ProductHandler struct {
	lookup StoreLookup
	names  func() []string
}

// NewProductHandler creates a new product handler.
// Parameters:
//   - lookup: resolves the :store path parameter.
//   - names: lists the configured stores.
//
// Returns:
//   - *ProductHandler: initialized handler.
func NewProductHandler(lookup StoreLookup, names func() []string) *ProductHandler {
	return &ProductHandler{lookup: lookup, names: names}
}

// FetchRequest is the optional body of a fetch call.
type FetchRequest struct {
	Principal string `json:"principal"`
}

// ProxyResponse describes a product that is known but not cached.
type ProxyResponse struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Online bool   `json:"online"`
}

// store resolves the :store parameter, writing a 404 when it is unknown.
func store(c *gin.Context, lookup StoreLookup) (ProductStore, bool) {
	name := c.Param("store")
	st, ok := lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown store: " + name})
		return nil, false
	}
	ctx := logger.SetStore(c.Request.Context(), name)
	if id := c.Param("uuid"); id != "" {
		ctx = logger.SetProduct(ctx, id)
	}
	c.Request = c.Request.WithContext(ctx)
	return st, true
}

// ListStores handles GET /api/v1/stores.
func (h *ProductHandler) ListStores(c *gin.Context) {
	names := h.names()
	c.JSON(http.StatusOK, gin.H{
		"stores": names,
		"total":  len(names),
	})
}

// GetProduct handles GET /api/v1/stores/:store/products/:uuid.
// A cached product is streamed; otherwise 202 with its catalog description.
func (h *ProductHandler) GetProduct(c *gin.Context) {
	st, ok := store(c, h.lookup)
	if !ok {
		return
	}
	info, err := st.Get(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}

	local, ok := info.(domain.Streamable)
	if !ok {
		c.JSON(http.StatusAccepted, ProxyResponse{
			UUID: info.GetUUID(),
			Name: info.GetName(),
			Size: info.GetSize(),
		})
		return
	}

	rc, err := local.Open()
	if err != nil {
		respondError(c, fmt.Errorf("failed to open cached product: %w", err))
		return
	}
	defer rc.Close()

	headers := map[string]string{}
	if name := info.GetName(); name != "" {
		headers["Content-Disposition"] = fmt.Sprintf("attachment; filename=%q", name)
	}
	if cp, ok := info.(*service.CachedProduct); ok {
		if sum := cp.Checksums["md5"]; sum != "" {
			headers["X-Checksum-Md5"] = sum
		}
	}
	c.DataFromReader(http.StatusOK, info.GetSize(), "application/octet-stream", rc, headers)
}

// FetchProduct handles POST /api/v1/stores/:store/products/:uuid/fetch.
func (h *ProductHandler) FetchProduct(c *gin.Context) {
	st, ok := store(c, h.lookup)
	if !ok {
		return
	}
	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	order, err := st.Fetch(c.Request.Context(), service.FetchRequest{
		ProductUUID: c.Param("uuid"),
		Principal:   req.Principal,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, order)
}

// PutProduct handles PUT /api/v1/stores/:store/products/:uuid. Stores are read-only.
func (h *ProductHandler) PutProduct(c *gin.Context) {
	st, ok := store(c, h.lookup)
	if !ok {
		return
	}
	if err := st.Put(c.Request.Context(), c.Param("uuid"), c.Request.Body); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// ResolveProduct handles GET /api/v1/stores/:store/resolve/:name, mapping a remote
// product name to the catalog record.
func (h *ProductHandler) ResolveProduct(c *gin.Context) {
	st, ok := store(c, h.lookup)
	if !ok {
		return
	}
	p, err := st.Resolve(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
