package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the engine.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvMasterKey    = "BIOAUTH_MASTER_KEY"
	EnvRedisAddr    = "BIOAUTH_REDIS_ADDR"
	EnvAMQPURL      = "BIOAUTH_AMQP_URL"
)

// Policy defaults applied when the config file omits a value.
const (
	DefaultMinQualityScore  = 0.7
	DefaultMatchThreshold   = 0.95
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 5 * time.Minute
	DefaultFailureWindow    = 15 * time.Minute
	DefaultChallengeTTL     = 5 * time.Minute
)

// Config holds the resolved engine configuration.
type Config struct {
	Port        int    `yaml:"port"`
	DatabaseDSN string `yaml:"database-dsn"`

	Biometric BiometricConfig `yaml:"biometric"`
	WebAuthn  WebAuthnConfig  `yaml:"webauthn"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	Audit     AuditConfig     `yaml:"audit"`

	// MasterKey is loaded from the environment only, never from YAML.
	MasterKey []byte `yaml:"-"`
}

// BiometricConfig holds quality gating and matching policy.
type BiometricConfig struct {
	MinQualityScore    float64 `yaml:"min-quality-score"`
	MatchThreshold     float64 `yaml:"match-threshold"`
	RequireLiveness    *bool   `yaml:"require-liveness"`
	TemplateExpiryDays int     `yaml:"template-expiry-days"`
	SweepSchedule      string  `yaml:"sweep-schedule"`
}

// RequireLivenessEnabled resolves the tri-state liveness flag (default true).
func (c BiometricConfig) RequireLivenessEnabled() bool {
	if c.RequireLiveness == nil {
		return true
	}
	return *c.RequireLiveness
}

// WebAuthnConfig holds relying-party and ceremony policy.
type WebAuthnConfig struct {
	RPID                string   `yaml:"rp-id"`
	RPDisplayName       string   `yaml:"rp-display-name"`
	AllowedOrigins      []string `yaml:"allowed-origins"`
	AttestationPolicy   string   `yaml:"attestation-policy"` // none, indirect, or direct.
	ChallengeTTLSeconds int      `yaml:"challenge-ttl-seconds"`
	StrictCounterPolicy bool     `yaml:"strict-counter-policy"`
}

// ChallengeTTL returns the challenge lifetime as a duration.
func (c WebAuthnConfig) ChallengeTTL() time.Duration {
	if c.ChallengeTTLSeconds <= 0 {
		return DefaultChallengeTTL
	}
	return time.Duration(c.ChallengeTTLSeconds) * time.Second
}

// LockoutConfig holds failure-count lockout policy and its Redis backend.
type LockoutConfig struct {
	Threshold              int    `yaml:"threshold"`
	LockoutDurationSeconds int    `yaml:"lockout-duration-seconds"`
	FailureWindowSeconds   int    `yaml:"failure-window-seconds"`
	RedisAddr              string `yaml:"redis-addr"`
	RedisPassword          string `yaml:"redis-password"`
	RedisDB                int    `yaml:"redis-db"`
	RedisPrefix            string `yaml:"redis-prefix"`
}

// LockoutDuration returns the lockout duration, defaulted.
func (c LockoutConfig) LockoutDuration() time.Duration {
	if c.LockoutDurationSeconds <= 0 {
		return DefaultLockoutDuration
	}
	return time.Duration(c.LockoutDurationSeconds) * time.Second
}

// FailureWindow returns the sliding failure window, defaulted.
func (c LockoutConfig) FailureWindow() time.Duration {
	if c.FailureWindowSeconds <= 0 {
		return DefaultFailureWindow
	}
	return time.Duration(c.FailureWindowSeconds) * time.Second
}

// AuditConfig holds the optional AMQP event-stream publisher settings.
type AuditConfig struct {
	AMQPURL      string `yaml:"amqp-url"`
	AMQPExchange string `yaml:"amqp-exchange"`
}

// ErrMissingDatabaseDSN indicates no database DSN was configured.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` in config file or env DB_CONNECTION)")

// ErrMissingMasterKey indicates the template encryption key is absent.
var ErrMissingMasterKey = errors.New("missing master key (set env BIOAUTH_MASTER_KEY to 64 hex chars)")

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = os.Getenv(EnvConfigPath)
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file, applies env overrides and defaults, and
// validates required fields.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Biometric: BiometricConfig{
			MinQualityScore: DefaultMinQualityScore,
			MatchThreshold:  DefaultMatchThreshold,
		},
		Lockout: LockoutConfig{
			Threshold: DefaultLockoutThreshold,
		},
		WebAuthn: WebAuthnConfig{
			AttestationPolicy: "none",
		},
	}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Lockout.RedisAddr = addr
	}
	if url := strings.TrimSpace(os.Getenv(EnvAMQPURL)); url != "" {
		cfg.Audit.AMQPURL = url
	}

	key, errKey := loadMasterKey()
	if errKey != nil {
		return Config{}, errKey
	}
	cfg.MasterKey = key

	applyDefaults(&cfg)
	if errValidate := validate(cfg); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// loadMasterKey reads and decodes the hex master key from the environment.
func loadMasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		return nil, ErrMissingMasterKey
	}
	key, errDecode := hex.DecodeString(raw)
	if errDecode != nil {
		return nil, fmt.Errorf("decode master key: %w", errDecode)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port <= 0 {
		cfg.Port = 8319
	}
	if cfg.Biometric.MinQualityScore <= 0 || cfg.Biometric.MinQualityScore > 1 {
		cfg.Biometric.MinQualityScore = DefaultMinQualityScore
	}
	if cfg.Biometric.MatchThreshold <= 0 || cfg.Biometric.MatchThreshold > 1 {
		cfg.Biometric.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.Biometric.SweepSchedule == "" {
		cfg.Biometric.SweepSchedule = "@hourly"
	}
	if cfg.Lockout.Threshold <= 0 {
		cfg.Lockout.Threshold = DefaultLockoutThreshold
	}
	if cfg.Lockout.RedisPrefix == "" {
		cfg.Lockout.RedisPrefix = "bioauth:lockout"
	}
	if cfg.WebAuthn.RPDisplayName == "" {
		cfg.WebAuthn.RPDisplayName = cfg.WebAuthn.RPID
	}
	if cfg.Audit.AMQPExchange == "" {
		cfg.Audit.AMQPExchange = "bioauth.audit"
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return ErrMissingDatabaseDSN
	}
	if strings.TrimSpace(cfg.WebAuthn.RPID) == "" {
		return errors.New("webauthn rp-id is required")
	}
	if len(cfg.WebAuthn.AllowedOrigins) == 0 {
		return errors.New("webauthn allowed-origins is required")
	}
	switch cfg.WebAuthn.AttestationPolicy {
	case "none", "indirect", "direct":
	default:
		return fmt.Errorf("unknown attestation-policy: %s", cfg.WebAuthn.AttestationPolicy)
	}
	return nil
}
