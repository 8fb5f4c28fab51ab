package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebAuthnCredential stores one registered authenticator credential.
//
// Credentials are never hard-deleted: revocation sets RevokedAt and
// RevocationReason together and clears Active, preserving audit history.
type WebAuthnCredential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CredentialID []byte `gorm:"type:bytea;not null;uniqueIndex"` // Raw credential ID from the authenticator.
	UserID       string `gorm:"type:text;not null;index"`        // External user reference.
	DeviceName   string `gorm:"type:text"`                       // Caller-supplied display name.

	PublicKey       []byte         `gorm:"type:bytea;not null"`           // COSE public key bytes.
	AttestationType string         `gorm:"type:text"`                     // Attestation format reported at registration.
	AAGUID          []byte         `gorm:"type:bytea"`                    // Authenticator model identifier.
	Attachment      string         `gorm:"type:text"`                     // "platform" or "cross-platform".
	Transports      datatypes.JSON `gorm:"type:json"`                     // Transport hints (usb, nfc, ble, internal).
	SignCount       uint32         `gorm:"not null;default:0"`            // Monotonic signature counter.
	BackupEligible  bool           `gorm:"not null;default:false"`        // Authenticator backup eligibility flag.
	BackupState     bool           `gorm:"not null;default:false"`        // Authenticator backup state flag.

	Active           bool       `gorm:"not null;default:true;index"` // Usable for authentication.
	RevokedAt        *time.Time ``                                   // Set together with RevocationReason.
	RevocationReason *string    `gorm:"type:text"`                   // Set together with RevokedAt.

	LastUsedAt *time.Time ``                          // Last successful authentication.
	UsageCount uint64     `gorm:"not null;default:0"` // Successful authentications.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
