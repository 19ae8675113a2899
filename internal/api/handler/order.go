package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tiercache/internal/domain"
)

// OrderLister reads orders straight from the order repository.
type OrderLister interface {
	ListByStore(ctx context.Context, store string, limit, offset int) ([]domain.Order, error)
	ListByStatus(ctx context.Context, store string, status domain.JobStatus, limit int) ([]domain.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	lookup StoreLookup
	orders OrderLister
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(lookup StoreLookup, orders OrderLister) *OrderHandler {
	return &OrderHandler{lookup: lookup, orders: orders}
}

// ListOrders handles GET /api/v1/stores/:store/orders.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	if _, ok := store(c, h.lookup); !ok {
		return
	}
	name := c.Param("store")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		orders []domain.Order
		err    error
	)
	if raw := c.Query("status"); raw != "" {
		status := domain.JobStatus(raw)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + raw})
			return
		}
		orders, err = h.orders.ListByStatus(c.Request.Context(), name, status, limit)
	} else {
		orders, err = h.orders.ListByStore(c.Request.Context(), name, limit, offset)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  len(orders),
	})
}

// GetOrder handles GET /api/v1/stores/:store/orders/:uuid.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	st, ok := store(c, h.lookup)
	if !ok {
		return
	}
	order, err := st.Order(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no order for product " + c.Param("uuid")})
		return
	}
	c.JSON(http.StatusOK, order)
}
