package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/db"
	"github.com/medvault/bioauth/internal/faults"
	"github.com/medvault/bioauth/internal/lockout"
	"github.com/medvault/bioauth/internal/models"
)

// RegistrationChallenge is the result of BeginRegistration.
type RegistrationChallenge struct {
	Options   *protocol.CredentialCreation
	RPID      string
	ExpiresAt time.Time
}

// BeginRegistration issues a registration challenge bound to the user.
// A prior outstanding registration challenge for the user is invalidated.
func (e *Engine) BeginRegistration(ctx context.Context, userID, deviceName string) (RegistrationChallenge, error) {
	if errLocked := e.checkLockout(ctx, userID); errLocked != nil {
		return RegistrationChallenge{}, errLocked
	}

	user, _, errLoad := e.loadCeremonyUser(ctx, userID)
	if errLoad != nil {
		return RegistrationChallenge{}, errLoad
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	}
	if len(user.credentials) > 0 {
		exclusions := make([]protocol.CredentialDescriptor, 0, len(user.credentials))
		for _, credential := range user.credentials {
			exclusions = append(exclusions, credential.Descriptor())
		}
		options = append(options, webauthn.WithExclusions(exclusions))
	}

	creation, session, errBegin := e.web.BeginRegistration(user, options...)
	if errBegin != nil {
		return RegistrationChallenge{}, faults.Infra("begin registration", errBegin)
	}
	if errStore := e.storeSession(ctx, user.user.ID, models.CeremonyRegistration, deviceName, session); errStore != nil {
		return RegistrationChallenge{}, errStore
	}

	return RegistrationChallenge{
		Options:   creation,
		RPID:      e.web.Config.RPID,
		ExpiresAt: e.nowFn().UTC().Add(e.challengeTTL),
	}, nil
}

// FinishRegistration verifies the attestation response against the
// outstanding challenge and persists the new credential. On any failure no
// credential is persisted and the challenge is consumed.
func (e *Engine) FinishRegistration(ctx context.Context, userID string, response []byte) (string, error) {
	if errLocked := e.checkLockout(ctx, userID); errLocked != nil {
		return "", errLocked
	}

	user, _, errLoad := e.loadCeremonyUser(ctx, userID)
	if errLoad != nil {
		return "", errLoad
	}

	credentialID, errFinish := e.finishRegistration(ctx, user, response)
	if errFinish != nil {
		kind := faults.KindOf(errFinish)
		e.trail.Record(ctx, audit.Entry{
			UserID: userID,
			Kind:   models.EventEnrollmentFailed,
			Reason: string(kind),
		})
		// Infrastructure faults are the server's failures, not the caller's;
		// they stay out of the lockout counter.
		if kind != faults.KindInfrastructure {
			e.recordFailure(ctx, userID)
		}
		return "", errFinish
	}

	e.trail.Record(ctx, audit.Entry{
		UserID:       userID,
		Kind:         models.EventRegistered,
		Success:      true,
		CredentialID: credentialID,
	})
	e.resetFailures(ctx, userID)
	return credentialID, nil
}

func (e *Engine) finishRegistration(ctx context.Context, user *ceremonyUser, response []byte) (string, error) {
	session, deviceName, errSession := e.consumeSession(ctx, user.user.ID, models.CeremonyRegistration)
	if errSession != nil {
		return "", errSession
	}

	parsed, errParse := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if errParse != nil {
		return "", ceremonyFault(errParse)
	}

	credential, errCreate := e.web.CreateCredential(user, session, parsed)
	if errCreate != nil {
		return "", ceremonyFault(errCreate)
	}

	var existing int64
	errCount := e.db.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("credential_id = ?", credential.ID).
		Count(&existing).Error
	if errCount != nil {
		return "", faults.Infra("check credential uniqueness", errCount)
	}
	if existing > 0 {
		return "", faults.New(faults.KindDuplicateCredential, "credential id already registered")
	}

	now := e.nowFn().UTC()
	row := models.WebAuthnCredential{
		CredentialID:    credential.ID,
		UserID:          user.user.ID,
		DeviceName:      deviceName,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		Attachment:      string(credential.Authenticator.Attachment),
		SignCount:       credential.Authenticator.SignCount,
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(credential.Transport) > 0 {
		names := make([]string, 0, len(credential.Transport))
		for _, transport := range credential.Transport {
			names = append(names, string(transport))
		}
		if raw, errMarshal := json.Marshal(names); errMarshal == nil {
			row.Transports = datatypes.JSON(raw)
		}
	}

	if errInsert := e.db.WithContext(ctx).Create(&row).Error; errInsert != nil {
		// A concurrent registration can slip past the count above; the unique
		// index is the authority.
		if db.IsUniqueViolation(errInsert) {
			return "", faults.New(faults.KindDuplicateCredential, "credential id already registered")
		}
		return "", faults.Infra("persist credential", errInsert)
	}
	return EncodeCredentialID(credential.ID), nil
}

func (e *Engine) recordFailure(ctx context.Context, userID string) {
	if _, errFail := e.limiter.RecordFailure(ctx, lockout.KeyForWebAuthn(userID)); errFail != nil {
		log.WithError(errFail).Warn("passkey: record lockout failure")
	}
}

func (e *Engine) resetFailures(ctx context.Context, userID string) {
	if errReset := e.limiter.RecordSuccess(ctx, lockout.KeyForWebAuthn(userID)); errReset != nil {
		log.WithError(errReset).Warn("passkey: reset lockout counter")
	}
}
