package models

import "time"

// Ceremony purposes for challenge sessions.
const (
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

// CeremonySession holds one outstanding WebAuthn challenge.
//
// Sessions are single-use and keyed by (user, purpose): issuing a new
// challenge for the same purpose replaces the prior one. Expired sessions
// are rejected on use rather than actively swept.
type CeremonySession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID      string    `gorm:"type:text;not null;uniqueIndex:idx_sessions_user_purpose"` // External user reference.
	Purpose     string    `gorm:"type:text;not null;uniqueIndex:idx_sessions_user_purpose"` // registration or authentication.
	DeviceName  string    `gorm:"type:text"`           // Display name captured at begin, bound at finish.
	SessionJSON []byte    `gorm:"type:bytea;not null"` // Serialized webauthn.SessionData.
	ExpiresAt   time.Time `gorm:"not null;index"`      // Hard expiry for the challenge.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Issue timestamp.
}

// Expired reports whether the session is past its expiry at the given time.
func (s CeremonySession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
