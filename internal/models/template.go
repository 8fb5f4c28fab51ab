package models

import (
	"time"

	"gorm.io/datatypes"
)

// Modality identifies a biometric capture type.
type Modality string

// Supported biometric modalities.
const (
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityVoice       Modality = "voice"
	ModalityIris        Modality = "iris"
	ModalityPalm        Modality = "palm"
)

// KnownModality reports whether the value names a supported modality.
func KnownModality(m Modality) bool {
	switch m {
	case ModalityFingerprint, ModalityFace, ModalityVoice, ModalityIris, ModalityPalm:
		return true
	}
	return false
}

// BiometricTemplate stores one encrypted, matchable biometric template.
//
// Active templates never carry deactivation metadata; deactivated templates
// always carry both the timestamp and the reason. At most one template per
// (user, modality) is active at a time.
type BiometricTemplate struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TemplateID string   `gorm:"type:text;not null;uniqueIndex"` // External template identifier (UUID).
	UserID     string   `gorm:"type:text;not null;index:idx_templates_user_modality"` // External user reference.
	Modality   Modality `gorm:"type:text;not null;index:idx_templates_user_modality"` // Capture type.
	Tenant     string   `gorm:"type:text;not null;default:''"` // Key-derivation tenant.

	EncryptedTemplate []byte         `gorm:"type:bytea;not null"` // AEAD-sealed template blob.
	QualityScore      float64        `gorm:"type:decimal(4,3);not null"` // Capture quality in [0,1].
	DeviceInfo        datatypes.JSON `gorm:"type:json"` // Capture device metadata.

	Active             bool       `gorm:"not null;default:true;index"` // Eligible for matching.
	DeactivatedAt      *time.Time ``                                   // Set together with DeactivationReason.
	DeactivationReason *string    `gorm:"type:text"`                   // Set together with DeactivatedAt.
	ExpiresAt          *time.Time `gorm:"index"`                       // Optional expiry for the sweep.

	LastUsedAt     *time.Time ``                                        // Last verification attempt against this template.
	UsageCount     uint64     `gorm:"not null;default:0"`               // Successful verifications.
	LastMatchScore *float64   `gorm:"type:decimal(4,3)"`                // Score of the most recent match.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
