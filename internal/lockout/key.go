package lockout

import (
	"fmt"

	"github.com/medvault/bioauth/internal/models"
)

// KeyForModality builds the lockout key for biometric attempts.
func KeyForModality(userID string, modality models.Modality) string {
	return fmt.Sprintf("u:%s:m:%s", userID, modality)
}

// KeyForWebAuthn builds the lockout key for WebAuthn ceremony attempts.
func KeyForWebAuthn(userID string) string {
	return fmt.Sprintf("u:%s:webauthn", userID)
}
