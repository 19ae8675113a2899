package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/logger"
)

// statusFor maps an engine error kind to an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindAdmission:
		return http.StatusTooManyRequests
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindReadOnly:
		return http.StatusMethodNotAllowed
	case domain.KindSubmission, domain.KindTransfer:
		return http.StatusBadGateway
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Internal failures are logged; their detail is not
// returned to the caller.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{
		"error": err.Error(),
		"kind":  domain.KindOf(err).String(),
	}
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		body["request_id"] = id
	}
	c.JSON(status, body)
}
