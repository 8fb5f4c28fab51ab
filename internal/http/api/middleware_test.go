package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/medvault/bioauth/internal/audit"
)

func TestClientContext_AttachesRequestDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/v1/biometric/verify", nil)
	c.Request.RemoteAddr = "203.0.113.9:51234"
	c.Request.Header.Set("User-Agent", "scanner-agent/1.2")

	ClientContext()(c)

	client := audit.ClientContext(c.Request.Context())
	if client["clientIp"] != "203.0.113.9" {
		t.Fatalf("expected client ip on context, got %v", client)
	}
	if client["userAgent"] != "scanner-agent/1.2" {
		t.Fatalf("expected user agent on context, got %v", client)
	}
}
