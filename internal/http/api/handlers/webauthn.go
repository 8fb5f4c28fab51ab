package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medvault/bioauth/internal/passkey"
)

// WebAuthnHandler manages WebAuthn ceremony endpoints.
type WebAuthnHandler struct {
	engine *passkey.Engine
}

// NewWebAuthnHandler constructs a WebAuthnHandler.
func NewWebAuthnHandler(engine *passkey.Engine) *WebAuthnHandler {
	return &WebAuthnHandler{engine: engine}
}

// registerBeginRequest defines the request body for registration begin.
type registerBeginRequest struct {
	UserID     string `json:"userId"`
	DeviceName string `json:"deviceName"`
}

// RegisterBegin issues a registration challenge.
func (h *WebAuthnHandler) RegisterBegin(c *gin.Context) {
	var body registerBeginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}

	challenge, errBegin := h.engine.BeginRegistration(c.Request.Context(), userID, strings.TrimSpace(body.DeviceName))
	if errBegin != nil {
		writeFault(c, errBegin)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"challenge": challenge.Options,
		"rpId":      challenge.RPID,
		"expiresAt": challenge.ExpiresAt,
	})
}

// registerFinishRequest defines the request body for registration finish.
type registerFinishRequest struct {
	UserID              string          `json:"userId"`
	AttestationResponse json.RawMessage `json:"attestationResponse"`
}

// RegisterFinish verifies the attestation response and persists the credential.
func (h *WebAuthnHandler) RegisterFinish(c *gin.Context) {
	var body registerFinishRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" || len(body.AttestationResponse) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId or attestationResponse"})
		return
	}

	credentialID, errFinish := h.engine.FinishRegistration(c.Request.Context(), userID, body.AttestationResponse)
	if errFinish != nil {
		writeFault(c, errFinish)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"credentialId": credentialID})
}

// authenticateBeginRequest defines the request body for authentication begin.
type authenticateBeginRequest struct {
	UserID string `json:"userId"`
}

// AuthenticateBegin issues an authentication challenge.
func (h *WebAuthnHandler) AuthenticateBegin(c *gin.Context) {
	var body authenticateBeginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}

	challenge, errBegin := h.engine.BeginAuthentication(c.Request.Context(), userID)
	if errBegin != nil {
		writeFault(c, errBegin)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"challenge": challenge.Options,
		"expiresAt": challenge.ExpiresAt,
	})
}

// authenticateFinishRequest defines the request body for authentication finish.
type authenticateFinishRequest struct {
	UserID            string          `json:"userId"`
	AssertionResponse json.RawMessage `json:"assertionResponse"`
}

// AuthenticateFinish verifies the assertion response.
func (h *WebAuthnHandler) AuthenticateFinish(c *gin.Context) {
	var body authenticateFinishRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" || len(body.AssertionResponse) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId or assertionResponse"})
		return
	}

	if errFinish := h.engine.FinishAuthentication(c.Request.Context(), userID, body.AssertionResponse); errFinish != nil {
		writeFault(c, errFinish)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// revokeCredentialRequest defines the request body for credential revocation.
type revokeCredentialRequest struct {
	CredentialID string `json:"credentialId"`
	Reason       string `json:"reason"`
}

// Revoke deactivates a credential. Idempotent.
func (h *WebAuthnHandler) Revoke(c *gin.Context) {
	var body revokeCredentialRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.CredentialID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentialId"})
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "revoked"
	}

	if errRevoke := h.engine.RevokeCredential(c.Request.Context(), body.CredentialID, reason); errRevoke != nil {
		writeFault(c, errRevoke)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
