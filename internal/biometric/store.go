// Package biometric owns the lifecycle of encrypted biometric templates:
// enrollment, verification, revocation, and expiry.
package biometric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/config"
	"github.com/medvault/bioauth/internal/faults"
	"github.com/medvault/bioauth/internal/liveness"
	"github.com/medvault/bioauth/internal/lockout"
	"github.com/medvault/bioauth/internal/matcher"
	"github.com/medvault/bioauth/internal/models"
	"github.com/medvault/bioauth/internal/security"
)

// Deactivation reasons written by the store itself.
const (
	ReasonSuperseded = "superseded"
	ReasonExpired    = "expired"
)

// Store enrolls, verifies, and revokes biometric templates.
type Store struct {
	db       *gorm.DB
	provider *security.Provider
	gate     *liveness.Gate
	matchers *matcher.Registry
	limiter  *lockout.Manager
	trail    *audit.Trail

	matchThreshold     float64
	templateExpiryDays int
	nowFn              func() time.Time
}

// NewStore constructs a Store. nowFn may be nil.
func NewStore(
	db *gorm.DB,
	provider *security.Provider,
	gate *liveness.Gate,
	matchers *matcher.Registry,
	limiter *lockout.Manager,
	trail *audit.Trail,
	cfg config.BiometricConfig,
	nowFn func() time.Time,
) *Store {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{
		db:                 db,
		provider:           provider,
		gate:               gate,
		matchers:           matchers,
		limiter:            limiter,
		trail:              trail,
		matchThreshold:     cfg.MatchThreshold,
		templateExpiryDays: cfg.TemplateExpiryDays,
		nowFn:              nowFn,
	}
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Success    bool
	MatchScore float64
	TemplateID string
}

// Enroll runs the gate over the sample, encrypts the derived template, and
// atomically supersedes any prior active template for the same modality.
func (s *Store) Enroll(ctx context.Context, userID, tenant string, modality models.Modality, sample []byte, deviceInfo map[string]string) (string, error) {
	if !models.KnownModality(modality) {
		return "", faults.New(faults.KindNotEnrolled, fmt.Sprintf("unknown modality: %s", modality))
	}
	key := lockout.KeyForModality(userID, modality)

	if errLocked := s.checkLockout(ctx, key, userID, modality); errLocked != nil {
		return "", errLocked
	}

	assessment, errGate := s.gate.Check(sample, modality)
	if errGate != nil {
		s.auditGateFailure(ctx, userID, modality, assessment, errGate, true, deviceInfo)
		s.recordFailure(ctx, key)
		return "", errGate
	}

	sealed, errSeal := s.provider.Seal(tenant, sample)
	if errSeal != nil {
		s.auditInfraFailure(ctx, userID, modality, models.EventEnrollmentFailed, deviceInfo)
		return "", faults.Infra("encrypt template", errSeal)
	}

	now := s.nowFn().UTC()
	template := models.BiometricTemplate{
		TemplateID:        uuid.NewString(),
		UserID:            userID,
		Modality:          modality,
		Tenant:            tenant,
		EncryptedTemplate: sealed,
		QualityScore:      assessment.QualityScore,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if len(deviceInfo) > 0 {
		if raw, errMarshal := json.Marshal(deviceInfo); errMarshal == nil {
			template.DeviceInfo = datatypes.JSON(raw)
		}
	}
	if s.templateExpiryDays > 0 {
		expiry := now.AddDate(0, 0, s.templateExpiryDays)
		template.ExpiresAt = &expiry
	}

	reason := ReasonSuperseded
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deactivate := tx.Model(&models.BiometricTemplate{}).
			Where("user_id = ? AND modality = ? AND active", userID, modality).
			Updates(map[string]any{
				"active":              false,
				"deactivated_at":      now,
				"deactivation_reason": reason,
			})
		if deactivate.Error != nil {
			return deactivate.Error
		}
		return tx.Create(&template).Error
	})
	if errTx != nil {
		s.auditInfraFailure(ctx, userID, modality, models.EventEnrollmentFailed, deviceInfo)
		return "", faults.Infra("store template", errTx)
	}

	s.trail.Record(ctx, audit.Entry{
		UserID:       userID,
		Kind:         models.EventEnrolled,
		Modality:     modality,
		Success:      true,
		TemplateID:   template.TemplateID,
		QualityScore: &assessment.QualityScore,
		Context:      deviceInfo,
	})
	s.resetFailures(ctx, key)
	return template.TemplateID, nil
}

// Verify gates the sample, matches it against the single active template for
// the modality, and updates usage stats and lockout counters.
func (s *Store) Verify(ctx context.Context, userID, tenant string, modality models.Modality, sample []byte) (VerifyResult, error) {
	if !models.KnownModality(modality) {
		return VerifyResult{}, faults.New(faults.KindNotEnrolled, fmt.Sprintf("unknown modality: %s", modality))
	}
	key := lockout.KeyForModality(userID, modality)

	if errLocked := s.checkLockout(ctx, key, userID, modality); errLocked != nil {
		return VerifyResult{}, errLocked
	}

	// The gate runs before the matcher: a spoofed or low-quality sample must
	// never reach template decryption.
	assessment, errGate := s.gate.Check(sample, modality)
	if errGate != nil {
		s.auditGateFailure(ctx, userID, modality, assessment, errGate, false, nil)
		s.recordFailure(ctx, key)
		return VerifyResult{}, errGate
	}

	// A caller-supplied tenant must match the enrollment tenant; templates
	// enrolled under another tenant are invisible here.
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND modality = ? AND active", userID, modality)
	if tenant != "" {
		query = query.Where("tenant = ?", tenant)
	}
	var template models.BiometricTemplate
	errFind := query.First(&template).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		errEnroll := faults.New(faults.KindNotEnrolled, "no active template for modality")
		s.trail.Record(ctx, audit.Entry{
			UserID:   userID,
			Kind:     models.EventNotEnrolled,
			Modality: modality,
			Reason:   string(faults.KindNotEnrolled),
		})
		return VerifyResult{}, errEnroll
	}
	if errFind != nil {
		s.auditInfraFailure(ctx, userID, modality, models.EventVerificationFailed, nil)
		return VerifyResult{}, faults.Infra("load template", errFind)
	}

	stored, errOpen := s.provider.Open(template.Tenant, template.EncryptedTemplate)
	if errOpen != nil {
		s.auditInfraFailure(ctx, userID, modality, models.EventVerificationFailed, nil)
		return VerifyResult{}, faults.Infra("decrypt template", errOpen)
	}

	score, errScore := s.matchers.For(modality).Score(sample, stored)
	if errScore != nil {
		s.auditInfraFailure(ctx, userID, modality, models.EventVerificationFailed, nil)
		return VerifyResult{}, faults.Infra("match sample", errScore)
	}

	now := s.nowFn().UTC()
	matched := score >= s.matchThreshold

	updates := map[string]any{
		"last_used_at":     now,
		"last_match_score": score,
		"updated_at":       now,
	}
	if matched {
		updates["usage_count"] = gorm.Expr("usage_count + 1")
	}
	if errUpdate := s.db.WithContext(ctx).Model(&models.BiometricTemplate{}).
		Where("id = ?", template.ID).
		Updates(updates).Error; errUpdate != nil {
		s.auditInfraFailure(ctx, userID, modality, models.EventVerificationFailed, nil)
		return VerifyResult{}, faults.Infra("update template stats", errUpdate)
	}

	if !matched {
		s.trail.Record(ctx, audit.Entry{
			UserID:       userID,
			Kind:         models.EventNoMatch,
			Modality:     modality,
			TemplateID:   template.TemplateID,
			QualityScore: &assessment.QualityScore,
			MatchScore:   &score,
			Reason:       string(faults.KindNoMatch),
		})
		s.recordFailure(ctx, key)
		return VerifyResult{MatchScore: score, TemplateID: template.TemplateID},
			faults.New(faults.KindNoMatch, "match score below threshold")
	}

	s.trail.Record(ctx, audit.Entry{
		UserID:       userID,
		Kind:         models.EventVerified,
		Modality:     modality,
		Success:      true,
		TemplateID:   template.TemplateID,
		QualityScore: &assessment.QualityScore,
		MatchScore:   &score,
	})
	s.resetFailures(ctx, key)
	return VerifyResult{Success: true, MatchScore: score, TemplateID: template.TemplateID}, nil
}

// Revoke deactivates a template by external ID. Revoking an already-inactive
// template is a no-op success.
func (s *Store) Revoke(ctx context.Context, templateID, reason string) error {
	var template models.BiometricTemplate
	errFind := s.db.WithContext(ctx).Where("template_id = ?", templateID).First(&template).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return faults.New(faults.KindNotEnrolled, "template not found")
	}
	if errFind != nil {
		return faults.Infra("load template", errFind)
	}

	if !template.Active {
		s.trail.Record(ctx, audit.Entry{
			UserID:     template.UserID,
			Kind:       models.EventRevoked,
			Modality:   template.Modality,
			Success:    true,
			TemplateID: template.TemplateID,
			Reason:     string(faults.KindAlreadyRevoked),
		})
		return nil
	}

	if errDeactivate := s.deactivate(ctx, template.ID, reason); errDeactivate != nil {
		return faults.Infra("revoke template", errDeactivate)
	}
	s.trail.Record(ctx, audit.Entry{
		UserID:     template.UserID,
		Kind:       models.EventRevoked,
		Modality:   template.Modality,
		Success:    true,
		TemplateID: template.TemplateID,
		Reason:     reason,
	})
	return nil
}

// RevokeAllForUser cascade-revokes every active template for a user, for
// the external identity system's delete-user flow.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	var rows []models.BiometricTemplate
	errFind := s.db.WithContext(ctx).Where("user_id = ? AND active", userID).Find(&rows).Error
	if errFind != nil {
		return 0, faults.Infra("list templates", errFind)
	}
	revoked := 0
	for _, template := range rows {
		if errRevoke := s.Revoke(ctx, template.TemplateID, reason); errRevoke != nil {
			return revoked, errRevoke
		}
		revoked++
	}
	return revoked, nil
}

// SweepExpired deactivates every active template past its expiry and returns
// how many were swept.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.nowFn().UTC()
	var expired []models.BiometricTemplate
	errFind := s.db.WithContext(ctx).
		Where("active AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Find(&expired).Error
	if errFind != nil {
		return 0, faults.Infra("list expired templates", errFind)
	}

	swept := 0
	for _, template := range expired {
		if errDeactivate := s.deactivate(ctx, template.ID, ReasonExpired); errDeactivate != nil {
			log.WithError(errDeactivate).WithField("template", template.TemplateID).Error("biometric: sweep failed")
			continue
		}
		s.trail.Record(ctx, audit.Entry{
			UserID:     template.UserID,
			Kind:       models.EventExpired,
			Modality:   template.Modality,
			Success:    true,
			TemplateID: template.TemplateID,
			Reason:     ReasonExpired,
		})
		swept++
	}
	return swept, nil
}

// EnrollmentStatus is one row of the enrollment_status read view.
type EnrollmentStatus struct {
	UserID                string     `json:"userId" gorm:"column:user_id"`
	ActiveModalityCount   int        `json:"activeModalityCount" gorm:"column:active_modality_count"`
	LastBiometricUse      *time.Time `json:"lastBiometricUse" gorm:"column:last_biometric_use"`
	ActiveCredentialCount int        `json:"activeCredentialCount" gorm:"column:active_credential_count"`
	LastCredentialUse     *time.Time `json:"lastCredentialUse" gorm:"column:last_credential_use"`
}

// Status reads the enrollment_status view for one user.
func (s *Store) Status(ctx context.Context, userID string) (EnrollmentStatus, error) {
	var status EnrollmentStatus
	errFind := s.db.WithContext(ctx).
		Table("enrollment_status").
		Where("user_id = ?", userID).
		Take(&status).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return EnrollmentStatus{UserID: userID}, nil
	}
	if errFind != nil {
		return EnrollmentStatus{}, faults.Infra("read enrollment status", errFind)
	}
	return status, nil
}

// deactivate clears the active flag and sets the paired deactivation fields.
func (s *Store) deactivate(ctx context.Context, id uint64, reason string) error {
	now := s.nowFn().UTC()
	return s.db.WithContext(ctx).Model(&models.BiometricTemplate{}).
		Where("id = ? AND active", id).
		Updates(map[string]any{
			"active":              false,
			"deactivated_at":      now,
			"deactivation_reason": reason,
			"updated_at":          now,
		}).Error
}

// checkLockout rejects the attempt when the key is locked out, auditing the
// rejection itself: lockout events are security signals.
func (s *Store) checkLockout(ctx context.Context, key, userID string, modality models.Modality) error {
	result, errCheck := s.limiter.Check(ctx, key)
	if errCheck != nil {
		return faults.Infra("lockout check", errCheck)
	}
	if !result.Locked {
		return nil
	}
	s.trail.Record(ctx, audit.Entry{
		UserID:   userID,
		Kind:     models.EventRateLimited,
		Modality: modality,
		Reason:   string(faults.KindRateLimited),
	})
	return faults.New(faults.KindRateLimited, fmt.Sprintf("locked out until %s", result.LockedUntil.UTC().Format(time.RFC3339)))
}

// auditInfraFailure records a terminal infrastructure outcome. The trail may
// share the failing backend; Record logs when it cannot append.
func (s *Store) auditInfraFailure(ctx context.Context, userID string, modality models.Modality, kind models.EventKind, deviceInfo map[string]string) {
	s.trail.Record(ctx, audit.Entry{
		UserID:   userID,
		Kind:     kind,
		Modality: modality,
		Reason:   string(faults.KindInfrastructure),
		Context:  deviceInfo,
	})
}

// auditGateFailure writes the distinct audit event for each gate rejection.
// Spoof detection gets its own kind for separate security alerting.
func (s *Store) auditGateFailure(ctx context.Context, userID string, modality models.Modality, assessment liveness.Assessment, errGate error, enrolling bool, deviceInfo map[string]string) {
	kind := faults.KindOf(errGate)
	entry := audit.Entry{
		UserID:       userID,
		Modality:     modality,
		QualityScore: &assessment.QualityScore,
		Reason:       string(kind),
		Context:      deviceInfo,
	}
	switch kind {
	case faults.KindSpoofDetected:
		entry.Kind = models.EventSpoofDetected
		log.WithFields(log.Fields{"user": userID, "modality": modality, "security": true}).
			Warn("biometric: spoof detected")
	case faults.KindLivenessFailed:
		entry.Kind = models.EventLivenessFailed
	default:
		if enrolling {
			entry.Kind = models.EventEnrollmentFailed
		} else {
			entry.Kind = models.EventVerificationFailed
		}
	}
	s.trail.Record(ctx, entry)
}

func (s *Store) recordFailure(ctx context.Context, key string) {
	if _, errFail := s.limiter.RecordFailure(ctx, key); errFail != nil {
		log.WithError(errFail).Warn("biometric: record lockout failure")
	}
}

func (s *Store) resetFailures(ctx context.Context, key string) {
	if errReset := s.limiter.RecordSuccess(ctx, key); errReset != nil {
		log.WithError(errReset).Warn("biometric: reset lockout counter")
	}
}
