package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medvault/bioauth/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists lockout counters as one row per key. Increments are
// single-statement upserts, so concurrent failures on the same key serialize
// in the database rather than in process memory.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Check reports whether the key is currently locked out.
func (s *GormStore) Check(ctx context.Context, key string, now time.Time) (Result, error) {
	var state models.LockoutState
	errFind := s.db.WithContext(ctx).Where("key = ?", key).First(&state).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return Result{}, nil
	}
	if errFind != nil {
		return Result{}, fmt.Errorf("lockout: load state: %w", errFind)
	}
	result := Result{FailureCount: state.FailureCount}
	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		result.Locked = true
		result.LockedUntil = *state.LockedUntil
	}
	return result, nil
}

// RecordFailure atomically advances the failure counter, restarting the
// window when the prior one has expired, and applies the lockout once the
// threshold is reached.
func (s *GormStore) RecordFailure(ctx context.Context, key string, now time.Time, policy Policy) (Result, error) {
	cutoff := now.Add(-policy.Window)
	state := models.LockoutState{
		Key:             key,
		FailureCount:    1,
		WindowStartedAt: now,
		UpdatedAt:       now,
	}
	errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"failure_count": gorm.Expr(
				"CASE WHEN lockout_states.window_started_at <= ? THEN 1 ELSE lockout_states.failure_count + 1 END", cutoff),
			"window_started_at": gorm.Expr(
				"CASE WHEN lockout_states.window_started_at <= ? THEN ? ELSE lockout_states.window_started_at END", cutoff, now),
			"updated_at": now,
		}),
	}).Create(&state).Error
	if errUpsert != nil {
		return Result{}, fmt.Errorf("lockout: record failure: %w", errUpsert)
	}

	var current models.LockoutState
	if errFind := s.db.WithContext(ctx).Where("key = ?", key).First(&current).Error; errFind != nil {
		return Result{}, fmt.Errorf("lockout: reload state: %w", errFind)
	}

	result := Result{FailureCount: current.FailureCount}
	if current.LockedUntil != nil && now.Before(*current.LockedUntil) {
		result.Locked = true
		result.LockedUntil = *current.LockedUntil
	}
	if current.FailureCount >= policy.Threshold {
		until := now.Add(policy.LockDuration)
		// Only extend: a concurrent failure may already have locked further out.
		errLock := s.db.WithContext(ctx).Model(&models.LockoutState{}).
			Where("key = ? AND (locked_until IS NULL OR locked_until < ?)", key, until).
			Update("locked_until", until).Error
		if errLock != nil {
			return Result{}, fmt.Errorf("lockout: apply lock: %w", errLock)
		}
		result.Locked = true
		if result.LockedUntil.Before(until) {
			result.LockedUntil = until
		}
	}
	return result, nil
}

// RecordSuccess resets the failure counter and clears any lockout.
func (s *GormStore) RecordSuccess(ctx context.Context, key string) error {
	errReset := s.db.WithContext(ctx).Model(&models.LockoutState{}).
		Where("key = ?", key).
		Updates(map[string]any{"failure_count": 0, "locked_until": nil}).Error
	if errReset != nil {
		return fmt.Errorf("lockout: record success: %w", errReset)
	}
	return nil
}
