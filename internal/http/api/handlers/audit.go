package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/models"
)

// AuditHandler exposes the audit trail read endpoint.
type AuditHandler struct {
	trail *audit.Trail
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(trail *audit.Trail) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// List returns audit events, newest first, filtered by userId and kind.
func (h *AuditHandler) List(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	kind := models.EventKind(strings.TrimSpace(c.Query("kind")))

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	events, errQuery := h.trail.Query(c.Request.Context(), userID, kind, limit)
	if errQuery != nil {
		writeFault(c, errQuery)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
