package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventKind names one terminal outcome of an authentication operation.
type EventKind string

// Audit event kinds.
const (
	EventEnrolled           EventKind = "enrolled"
	EventEnrollmentFailed   EventKind = "enrollment_failed"
	EventVerified           EventKind = "verified"
	EventVerificationFailed EventKind = "verification_failed"
	EventNoMatch            EventKind = "no_match"
	EventLivenessFailed     EventKind = "liveness_failed"
	EventSpoofDetected      EventKind = "spoof_detected"
	EventNotEnrolled        EventKind = "not_enrolled"
	EventRateLimited        EventKind = "rate_limited"
	EventRevoked            EventKind = "revoked"
	EventExpired            EventKind = "expired"
	EventRegistered         EventKind = "registered"
	EventAuthenticated      EventKind = "authenticated"
	EventAuthFailed         EventKind = "authentication_failed"
	EventPossibleReplay     EventKind = "possible_replay"
)

// AuditEvent is one immutable record of an authentication attempt.
//
// Rows are append-only: the engine inserts and reads them and never updates
// or deletes; retention is an external collaborator's concern.
type AuditEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID    string    `gorm:"type:text;not null;uniqueIndex"` // External event identifier (UUID).
	UserID     string    `gorm:"type:text;not null;index"`       // External user reference.
	Kind       EventKind `gorm:"type:text;not null;index"`       // Outcome taxonomy value.
	Modality   Modality  `gorm:"type:text"`                      // Biometric modality, empty for WebAuthn events.
	Success    bool      `gorm:"not null"`                       // Whether the attempt succeeded.

	TemplateID   string `gorm:"type:text;index"` // Related template, when applicable.
	CredentialID string `gorm:"type:text;index"` // Related credential (base64url), when applicable.

	QualityScore  *float64 `gorm:"type:decimal(4,3)"` // Gate quality score, when assessed.
	MatchScore    *float64 `gorm:"type:decimal(4,3)"` // Matcher score, when computed.
	FailureReason string   `gorm:"type:text"`         // Error kind or free-form reason.

	Context datatypes.JSON `gorm:"type:json"` // Device/network context supplied by the caller.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Event timestamp.
}
