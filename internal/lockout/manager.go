package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/medvault/bioauth/internal/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const redisBreakerDuration = 30 * time.Second

// Manager enforces the lockout policy using the best available backend:
// Redis when configured and healthy, otherwise the database store. A short
// breaker avoids hammering an unreachable Redis on every attempt.
type Manager struct {
	policy  Policy
	dbStore Store
	redisSt Store
	nowFn   func() time.Time

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager from config. nowFn may be nil.
func NewManager(cfg config.LockoutConfig, conn *gorm.DB, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Manager{
		policy: Policy{
			Threshold:    cfg.Threshold,
			Window:       cfg.FailureWindow(),
			LockDuration: cfg.LockoutDuration(),
		},
		dbStore: NewGormStore(conn),
		nowFn:   nowFn,
	}
	if addr := cfg.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		m.redisSt = NewRedisStore(client, cfg.RedisPrefix)
	}
	return m
}

// NewManagerWithStores constructs a Manager over explicit stores, for tests.
func NewManagerWithStores(policy Policy, primary, fallback Store, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{policy: policy, redisSt: primary, dbStore: fallback, nowFn: nowFn}
}

// Policy returns the active lockout policy.
func (m *Manager) Policy() Policy { return m.policy }

// Check reports whether the key is locked out.
func (m *Manager) Check(ctx context.Context, key string) (Result, error) {
	now := m.nowFn()
	if store := m.activeRedis(now); store != nil {
		result, errCheck := store.Check(ctx, key, now)
		if errCheck == nil {
			return result, nil
		}
		m.tripBreaker(errCheck, now)
	}
	return m.dbStore.Check(ctx, key, now)
}

// RecordFailure advances the failure counter for the key.
func (m *Manager) RecordFailure(ctx context.Context, key string) (Result, error) {
	now := m.nowFn()
	if store := m.activeRedis(now); store != nil {
		result, errFail := store.RecordFailure(ctx, key, now, m.policy)
		if errFail == nil {
			return result, nil
		}
		m.tripBreaker(errFail, now)
	}
	return m.dbStore.RecordFailure(ctx, key, now, m.policy)
}

// RecordSuccess resets the failure counter for the key. Both backends are
// reset: stale database counters would otherwise survive a Redis outage.
func (m *Manager) RecordSuccess(ctx context.Context, key string) error {
	now := m.nowFn()
	if store := m.activeRedis(now); store != nil {
		if errSuccess := store.RecordSuccess(ctx, key); errSuccess != nil {
			m.tripBreaker(errSuccess, now)
		}
	}
	return m.dbStore.RecordSuccess(ctx, key)
}

// activeRedis returns the Redis store unless the breaker is open.
func (m *Manager) activeRedis(now time.Time) Store {
	if m.redisSt == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return nil
	}
	m.breakerUntil = time.Time{}
	return m.redisSt
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("lockout: redis unavailable, falling back to database")
}
