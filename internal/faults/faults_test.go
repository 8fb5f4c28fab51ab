package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	if kind := KindOf(New(KindNoMatch, "below threshold")); kind != KindNoMatch {
		t.Fatalf("expected no_match, got %s", kind)
	}
	if kind := KindOf(errors.New("plain")); kind != KindInfrastructure {
		t.Fatalf("expected infrastructure for plain error, got %s", kind)
	}
	if kind := KindOf(nil); kind != KindInfrastructure {
		t.Fatalf("expected infrastructure for nil, got %s", kind)
	}

	wrapped := fmt.Errorf("handler: %w", New(KindRateLimited, "locked"))
	if !Is(wrapped, KindRateLimited) {
		t.Fatalf("kind must survive wrapping")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Infra("lockout check", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
}

func TestSecurityAlert(t *testing.T) {
	if !SecurityAlert(KindSpoofDetected) || !SecurityAlert(KindPossibleReplay) {
		t.Fatalf("spoof and replay are security alerts")
	}
	if SecurityAlert(KindNoMatch) || SecurityAlert(KindLowQuality) {
		t.Fatalf("ordinary failures are not security alerts")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Infra("db down", errors.New("x"))) {
		t.Fatalf("infrastructure failures are retryable")
	}
	if Retryable(New(KindSignatureInvalid, "bad signature")) {
		t.Fatalf("security verdicts are final")
	}
}
