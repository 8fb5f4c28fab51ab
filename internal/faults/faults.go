// Package faults defines the structured error taxonomy shared by the
// biometric and WebAuthn engines. Every non-success verdict is a *Error with
// a Kind; callers branch on the kind, never on message text.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal failure of an authentication operation.
type Kind string

// Failure kinds. All are locally recoverable; only KindInfrastructure is
// eligible for caller-side retry.
const (
	KindLowQuality          Kind = "low_quality"
	KindLivenessFailed      Kind = "liveness_failed"
	KindSpoofDetected       Kind = "spoof_detected"
	KindNoMatch             Kind = "no_match"
	KindNotEnrolled         Kind = "not_enrolled"
	KindRateLimited         Kind = "rate_limited"
	KindChallengeExpired    Kind = "challenge_expired"
	KindChallengeMismatch   Kind = "challenge_mismatch"
	KindRPIDMismatch        Kind = "rp_id_mismatch"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindPossibleReplay      Kind = "possible_replay"
	KindDuplicateCredential Kind = "duplicate_credential"
	KindAlreadyRevoked      Kind = "already_revoked"
	KindInfrastructure      Kind = "infrastructure_error"
)

// Error carries a failure kind plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Infra wraps a storage or crypto infrastructure failure.
func Infra(message string, cause error) *Error {
	return &Error{Kind: KindInfrastructure, Message: message, Cause: cause}
}

// KindOf extracts the failure kind from err, or KindInfrastructure when err
// is not a taxonomy error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInfrastructure
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SecurityAlert reports whether the kind warrants elevated security handling
// by the caller, distinct from ordinary user error.
func SecurityAlert(kind Kind) bool {
	return kind == KindSpoofDetected || kind == KindPossibleReplay
}

// Retryable reports whether the caller may retry the failed attempt.
// Security verdicts are final; only infrastructure failures may be retried.
func Retryable(err error) bool {
	return KindOf(err) == KindInfrastructure
}
