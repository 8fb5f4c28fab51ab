package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/biometric"
	"github.com/medvault/bioauth/internal/config"
	"github.com/medvault/bioauth/internal/db"
	"github.com/medvault/bioauth/internal/http/api"
	"github.com/medvault/bioauth/internal/identity"
	"github.com/medvault/bioauth/internal/liveness"
	"github.com/medvault/bioauth/internal/lockout"
	"github.com/medvault/bioauth/internal/matcher"
	"github.com/medvault/bioauth/internal/passkey"
	"github.com/medvault/bioauth/internal/security"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// Sweep deactivates expired biometric templates once and exits.
func Sweep(ctx context.Context, configPath string) error {
	cfg, conn, errOpen := openDatabase(configPath)
	if errOpen != nil {
		return errOpen
	}
	store, _, _, errBuild := buildEngine(cfg, conn)
	if errBuild != nil {
		return errBuild
	}
	swept, errSweep := store.SweepExpired(ctx)
	if errSweep != nil {
		return errSweep
	}
	log.Infof("expired template sweep done, deactivated=%d", swept)
	return nil
}

// RunServer boots the authentication engine HTTP server.
func RunServer(ctx context.Context, configPath string, defaultPort int) error {
	cfg, conn, errOpen := openDatabase(configPath)
	if errOpen != nil {
		return errOpen
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}

	store, engine, trail, errBuild := buildEngine(cfg, conn)
	if errBuild != nil {
		return errBuild
	}

	scheduler := cron.New()
	if _, errCron := scheduler.AddFunc(cfg.Biometric.SweepSchedule, func() {
		swept, errSweep := store.SweepExpired(context.Background())
		if errSweep != nil {
			log.WithError(errSweep).Warn("expired template sweep failed")
			return
		}
		if swept > 0 {
			log.Infof("expired template sweep deactivated %d templates", swept)
		}
	}); errCron != nil {
		return fmt.Errorf("schedule template sweep: %w", errCron)
	}
	scheduler.Start()
	defer scheduler.Stop()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	api.RegisterRoutes(r, conn, store, engine, trail)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// openDatabase loads config, opens the database, and runs migrations.
func openDatabase(configPath string) (config.Config, *gorm.DB, error) {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return config.Config{}, nil, errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return config.Config{}, nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return config.Config{}, nil, errMigrate
	}
	return cfg, conn, nil
}

// buildEngine assembles the biometric store and WebAuthn engine with their
// shared lockout manager and audit trail.
func buildEngine(cfg config.Config, conn *gorm.DB) (*biometric.Store, *passkey.Engine, *audit.Trail, error) {
	provider, errProvider := security.NewProvider(cfg.MasterKey)
	if errProvider != nil {
		return nil, nil, nil, errProvider
	}

	gate := liveness.NewGate(nil, cfg.Biometric.MinQualityScore, cfg.Biometric.RequireLivenessEnabled())
	matchers := matcher.NewRegistry()
	limiter := lockout.NewManager(cfg.Lockout, conn, nil)

	var publisher audit.Publisher
	if cfg.Audit.AMQPURL != "" {
		publisher = audit.NewAMQPPublisher(cfg.Audit.AMQPURL, cfg.Audit.AMQPExchange)
	}
	trail := audit.NewTrail(conn, publisher, nil)

	store := biometric.NewStore(conn, provider, gate, matchers, limiter, trail, cfg.Biometric, nil)
	engine, errEngine := passkey.NewEngine(conn, cfg.WebAuthn, identity.TrustedGateway{}, limiter, trail, nil)
	if errEngine != nil {
		return nil, nil, nil, errEngine
	}
	return store, engine, trail, nil
}
