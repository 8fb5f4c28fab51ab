package lockout

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingStore simulates an unreachable Redis backend.
type failingStore struct {
	calls int
}

func (s *failingStore) Check(_ context.Context, _ string, _ time.Time) (Result, error) {
	s.calls++
	return Result{}, errors.New("connection refused")
}

func (s *failingStore) RecordFailure(_ context.Context, _ string, _ time.Time, _ Policy) (Result, error) {
	s.calls++
	return Result{}, errors.New("connection refused")
}

func (s *failingStore) RecordSuccess(_ context.Context, _ string) error {
	s.calls++
	return errors.New("connection refused")
}

// memoryStore is a trivial in-process Store for manager tests.
type memoryStore struct {
	counts map[string]int
}

func newMemoryStore() *memoryStore { return &memoryStore{counts: make(map[string]int)} }

func (s *memoryStore) Check(_ context.Context, key string, _ time.Time) (Result, error) {
	return Result{FailureCount: s.counts[key]}, nil
}

func (s *memoryStore) RecordFailure(_ context.Context, key string, now time.Time, policy Policy) (Result, error) {
	s.counts[key]++
	result := Result{FailureCount: s.counts[key]}
	if result.FailureCount >= policy.Threshold {
		result.Locked = true
		result.LockedUntil = now.Add(policy.LockDuration)
	}
	return result, nil
}

func (s *memoryStore) RecordSuccess(_ context.Context, key string) error {
	s.counts[key] = 0
	return nil
}

func TestManager_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &failingStore{}
	fallback := newMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	manager := NewManagerWithStores(testPolicy(), primary, fallback, func() time.Time { return now })

	result, errFail := manager.RecordFailure(context.Background(), "u:alice:webauthn")
	if errFail != nil {
		t.Fatalf("expected fallback to serve, got %v", errFail)
	}
	if result.FailureCount != 1 {
		t.Fatalf("expected fallback count=1, got %d", result.FailureCount)
	}
}

func TestManager_BreakerSkipsUnhealthyPrimary(t *testing.T) {
	primary := &failingStore{}
	fallback := newMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	manager := NewManagerWithStores(testPolicy(), primary, fallback, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		if _, errCheck := manager.Check(context.Background(), "u:alice:webauthn"); errCheck != nil {
			t.Fatalf("check: %v", errCheck)
		}
	}
	// The first call trips the breaker; the rest go straight to the fallback.
	if primary.calls != 1 {
		t.Fatalf("expected primary hit once before breaker opened, got %d", primary.calls)
	}
}

func TestManager_BreakerRecovers(t *testing.T) {
	primary := &failingStore{}
	fallback := newMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	manager := NewManagerWithStores(testPolicy(), primary, fallback, func() time.Time { return now })

	if _, errCheck := manager.Check(context.Background(), "u:bob:webauthn"); errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	now = now.Add(redisBreakerDuration + time.Second)
	if _, errCheck := manager.Check(context.Background(), "u:bob:webauthn"); errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if primary.calls != 2 {
		t.Fatalf("expected primary retried after breaker expiry, got %d calls", primary.calls)
	}
}

func TestManager_SuccessResetsBothBackends(t *testing.T) {
	primary := newMemoryStore()
	fallback := newMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	manager := NewManagerWithStores(testPolicy(), primary, fallback, func() time.Time { return now })

	primary.counts["u:carol:webauthn"] = 2
	fallback.counts["u:carol:webauthn"] = 2

	if errSuccess := manager.RecordSuccess(context.Background(), "u:carol:webauthn"); errSuccess != nil {
		t.Fatalf("record success: %v", errSuccess)
	}
	if primary.counts["u:carol:webauthn"] != 0 || fallback.counts["u:carol:webauthn"] != 0 {
		t.Fatalf("expected both backends reset, got primary=%d fallback=%d",
			primary.counts["u:carol:webauthn"], fallback.counts["u:carol:webauthn"])
	}
}
