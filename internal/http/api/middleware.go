package api

import (
	"github.com/gin-gonic/gin"

	"github.com/medvault/bioauth/internal/audit"
)

// ClientContext puts the caller's network details on the request context so
// every audit event written during the request carries them.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := map[string]string{"clientIp": c.ClientIP()}
		if agent := c.Request.UserAgent(); agent != "" {
			client["userAgent"] = agent
		}
		c.Request = c.Request.WithContext(audit.WithClientContext(c.Request.Context(), client))
		c.Next()
	}
}
