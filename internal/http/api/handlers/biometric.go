package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medvault/bioauth/internal/biometric"
	"github.com/medvault/bioauth/internal/models"
)

// BiometricHandler manages biometric enrollment and verification endpoints.
type BiometricHandler struct {
	store *biometric.Store
}

// NewBiometricHandler constructs a BiometricHandler.
func NewBiometricHandler(store *biometric.Store) *BiometricHandler {
	return &BiometricHandler{store: store}
}

// enrollRequest defines the request body for biometric enrollment.
type enrollRequest struct {
	UserID     string            `json:"userId"`
	Modality   string            `json:"modality"`
	Sample     string            `json:"sample"` // base64-encoded raw sample
	Tenant     string            `json:"tenant"`
	DeviceInfo map[string]string `json:"deviceInfo"`
}

// Enroll stores a new encrypted template for the user and modality.
func (h *BiometricHandler) Enroll(c *gin.Context) {
	var body enrollRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}
	sample, errDecode := base64.StdEncoding.DecodeString(body.Sample)
	if errDecode != nil || len(sample) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sample"})
		return
	}

	templateID, errEnroll := h.store.Enroll(c.Request.Context(), userID, body.Tenant,
		models.Modality(body.Modality), sample, body.DeviceInfo)
	if errEnroll != nil {
		writeFault(c, errEnroll)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"templateId": templateID})
}

// verifyRequest defines the request body for biometric verification.
type verifyRequest struct {
	UserID   string `json:"userId"`
	Modality string `json:"modality"`
	Sample   string `json:"sample"`
	Tenant   string `json:"tenant"`
}

// Verify matches a sample against the active template for the modality.
func (h *BiometricHandler) Verify(c *gin.Context) {
	var body verifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}
	sample, errDecode := base64.StdEncoding.DecodeString(body.Sample)
	if errDecode != nil || len(sample) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sample"})
		return
	}

	result, errVerify := h.store.Verify(c.Request.Context(), userID, body.Tenant,
		models.Modality(body.Modality), sample)
	if errVerify != nil {
		writeFault(c, errVerify)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    result.Success,
		"matchScore": result.MatchScore,
		"templateId": result.TemplateID,
	})
}

// revokeTemplateRequest defines the request body for template revocation.
type revokeTemplateRequest struct {
	TemplateID string `json:"templateId"`
	Reason     string `json:"reason"`
}

// Revoke deactivates a template. Idempotent.
func (h *BiometricHandler) Revoke(c *gin.Context) {
	var body revokeTemplateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.TemplateID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing templateId"})
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "revoked"
	}

	if errRevoke := h.store.Revoke(c.Request.Context(), body.TemplateID, reason); errRevoke != nil {
		writeFault(c, errRevoke)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// Status returns the enrollment_status read view row for a user.
func (h *BiometricHandler) Status(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}
	status, errStatus := h.store.Status(c.Request.Context(), userID)
	if errStatus != nil {
		writeFault(c, errStatus)
		return
	}
	c.JSON(http.StatusOK, status)
}
