package models

import "time"

// LockoutState tracks consecutive failures for one (user, scope) key.
//
// The row is the shared counter across stateless instances: increments are
// single-statement UPDATEs so two concurrent failures cannot both observe a
// stale count.
type LockoutState struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key             string     `gorm:"type:text;not null;uniqueIndex"` // user:modality or user:webauthn.
	FailureCount    int        `gorm:"not null;default:0"`             // Consecutive failures in the window.
	WindowStartedAt time.Time  `gorm:"not null"`                       // Start of the sliding window.
	LockedUntil     *time.Time `gorm:"index"`                          // Lockout expiry, nil when not locked.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last counter change.
}
