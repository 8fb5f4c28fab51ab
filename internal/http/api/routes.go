package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/biometric"
	"github.com/medvault/bioauth/internal/http/api/handlers"
	"github.com/medvault/bioauth/internal/passkey"
)

// RegisterRoutes wires all authentication endpoints onto the gin engine.
func RegisterRoutes(r *gin.Engine, conn *gorm.DB, store *biometric.Store, engine *passkey.Engine, trail *audit.Trail) {
	if r == nil || conn == nil {
		return
	}
	r.Use(ClientContext())

	healthHandler := handlers.NewHealthHandler(conn)
	r.GET("/healthz", healthHandler.Healthz)

	v1 := r.Group("/v1")

	biometricHandler := handlers.NewBiometricHandler(store)
	v1.POST("/biometric/enroll", biometricHandler.Enroll)
	v1.POST("/biometric/verify", biometricHandler.Verify)
	v1.POST("/biometric/revoke", biometricHandler.Revoke)
	v1.GET("/biometric/status/:userId", biometricHandler.Status)

	webauthnHandler := handlers.NewWebAuthnHandler(engine)
	v1.POST("/webauthn/register/begin", webauthnHandler.RegisterBegin)
	v1.POST("/webauthn/register/finish", webauthnHandler.RegisterFinish)
	v1.POST("/webauthn/authenticate/begin", webauthnHandler.AuthenticateBegin)
	v1.POST("/webauthn/authenticate/finish", webauthnHandler.AuthenticateFinish)
	v1.POST("/webauthn/revoke", webauthnHandler.Revoke)

	auditHandler := handlers.NewAuditHandler(trail)
	v1.GET("/audit/events", auditHandler.List)
}
