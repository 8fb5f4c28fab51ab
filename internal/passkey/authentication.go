package passkey

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/faults"
	"github.com/medvault/bioauth/internal/models"
)

// AuthenticationChallenge is the result of BeginAuthentication.
type AuthenticationChallenge struct {
	Options   *protocol.CredentialAssertion
	ExpiresAt time.Time
}

// BeginAuthentication issues an authentication challenge bound to the user.
// A prior outstanding authentication challenge for the user is invalidated.
func (e *Engine) BeginAuthentication(ctx context.Context, userID string) (AuthenticationChallenge, error) {
	if errLocked := e.checkLockout(ctx, userID); errLocked != nil {
		return AuthenticationChallenge{}, errLocked
	}

	user, _, errLoad := e.loadCeremonyUser(ctx, userID)
	if errLoad != nil {
		return AuthenticationChallenge{}, errLoad
	}
	if len(user.credentials) == 0 {
		return AuthenticationChallenge{}, faults.New(faults.KindNotEnrolled, "no active credentials")
	}

	assertion, session, errBegin := e.web.BeginLogin(user)
	if errBegin != nil {
		return AuthenticationChallenge{}, faults.Infra("begin authentication", errBegin)
	}
	if errStore := e.storeSession(ctx, user.user.ID, models.CeremonyAuthentication, "", session); errStore != nil {
		return AuthenticationChallenge{}, errStore
	}

	return AuthenticationChallenge{
		Options:   assertion,
		ExpiresAt: e.nowFn().UTC().Add(e.challengeTTL),
	}, nil
}

// FinishAuthentication verifies the assertion response, enforces the
// sign-counter anti-replay invariant, and advances counter and usage stats
// atomically.
func (e *Engine) FinishAuthentication(ctx context.Context, userID string, response []byte) error {
	if errLocked := e.checkLockout(ctx, userID); errLocked != nil {
		return errLocked
	}

	user, rows, errLoad := e.loadCeremonyUser(ctx, userID)
	if errLoad != nil {
		return errLoad
	}

	credentialID, errFinish := e.finishAuthentication(ctx, user, rows, response)
	if errFinish != nil {
		kind := faults.KindOf(errFinish)
		entry := audit.Entry{
			UserID:       userID,
			CredentialID: credentialID,
			Reason:       string(kind),
		}
		// Replay and clone signals get their own event kind for
		// security alerting, distinct from ordinary failures.
		if kind == faults.KindPossibleReplay {
			entry.Kind = models.EventPossibleReplay
			log.WithFields(log.Fields{"user": userID, "credential": credentialID, "security": true}).
				Warn("passkey: possible replay detected")
		} else {
			entry.Kind = models.EventAuthFailed
		}
		e.trail.Record(ctx, entry)
		// Infrastructure faults are the server's failures, not the caller's;
		// they stay out of the lockout counter.
		if kind != faults.KindInfrastructure {
			e.recordFailure(ctx, userID)
		}
		return errFinish
	}

	e.trail.Record(ctx, audit.Entry{
		UserID:       userID,
		Kind:         models.EventAuthenticated,
		Success:      true,
		CredentialID: credentialID,
	})
	e.resetFailures(ctx, userID)
	return nil
}

func (e *Engine) finishAuthentication(ctx context.Context, user *ceremonyUser, rows []models.WebAuthnCredential, response []byte) (string, error) {
	session, _, errSession := e.consumeSession(ctx, user.user.ID, models.CeremonyAuthentication)
	if errSession != nil {
		return "", errSession
	}

	parsed, errParse := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if errParse != nil {
		return "", ceremonyFault(errParse)
	}

	validated, errValidate := e.web.ValidateLogin(user, session, parsed)
	if errValidate != nil {
		return EncodeCredentialID(parsed.RawID), ceremonyFault(errValidate)
	}
	credentialID := EncodeCredentialID(validated.ID)

	var stored *models.WebAuthnCredential
	for i := range rows {
		if bytes.Equal(rows[i].CredentialID, validated.ID) {
			stored = &rows[i]
			break
		}
	}
	if stored == nil {
		return credentialID, faults.New(faults.KindSignatureInvalid, "assertion credential not registered")
	}

	newCount := parsed.Response.AuthenticatorData.Counter
	if errCounter := e.advanceSignCount(ctx, stored, newCount); errCounter != nil {
		return credentialID, errCounter
	}
	return credentialID, nil
}

// advanceSignCount enforces the anti-replay counter invariant and commits
// the new counter together with usage stats in one compare-and-swap update,
// so two concurrent assertions carrying the same counter cannot both pass.
func (e *Engine) advanceSignCount(ctx context.Context, stored *models.WebAuthnCredential, newCount uint32) error {
	bothZero := newCount == 0 && stored.SignCount == 0
	if bothZero {
		// Authenticators without counters report 0 forever: a known,
		// accepted degraded-security case unless strict policy is on.
		if e.strictCounter && stored.UsageCount > 0 {
			return faults.New(faults.KindPossibleReplay, "repeated zero sign counter under strict policy")
		}
		log.WithField("credential", EncodeCredentialID(stored.CredentialID)).
			Warn("passkey: authenticator reports no sign counter")
	} else if newCount <= stored.SignCount {
		return faults.New(faults.KindPossibleReplay, "sign counter did not increase")
	}

	now := e.nowFn().UTC()
	update := e.db.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("id = ? AND active AND sign_count = ?", stored.ID, stored.SignCount).
		Updates(map[string]any{
			"sign_count":   newCount,
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
			"updated_at":   now,
		})
	if update.Error != nil {
		return faults.Infra("advance sign counter", update.Error)
	}
	if update.RowsAffected == 0 && !bothZero {
		// A concurrent assertion advanced the counter first.
		return faults.New(faults.KindPossibleReplay, "sign counter advanced concurrently")
	}
	return nil
}

// RevokeCredential deactivates a credential. Revoking an already-revoked
// credential is a no-op success; Revoked is terminal.
func (e *Engine) RevokeCredential(ctx context.Context, credentialID, reason string) error {
	raw, errDecode := DecodeCredentialID(credentialID)
	if errDecode != nil {
		return faults.Wrap(faults.KindNotEnrolled, "malformed credential id", errDecode)
	}

	var row models.WebAuthnCredential
	errFind := e.db.WithContext(ctx).Where("credential_id = ?", raw).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return faults.New(faults.KindNotEnrolled, "credential not found")
	}
	if errFind != nil {
		return faults.Infra("load credential", errFind)
	}

	if !row.Active {
		e.trail.Record(ctx, audit.Entry{
			UserID:       row.UserID,
			Kind:         models.EventRevoked,
			Success:      true,
			CredentialID: credentialID,
			Reason:       string(faults.KindAlreadyRevoked),
		})
		return nil
	}

	now := e.nowFn().UTC()
	errRevoke := e.db.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("id = ? AND active", row.ID).
		Updates(map[string]any{
			"active":            false,
			"revoked_at":        now,
			"revocation_reason": reason,
			"updated_at":        now,
		}).Error
	if errRevoke != nil {
		return faults.Infra("revoke credential", errRevoke)
	}

	e.trail.Record(ctx, audit.Entry{
		UserID:       row.UserID,
		Kind:         models.EventRevoked,
		Success:      true,
		CredentialID: credentialID,
		Reason:       reason,
	})
	return nil
}

// RevokeAllForUser cascade-revokes every active credential for a user, for
// the external identity system's delete-user flow.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	var rows []models.WebAuthnCredential
	errFind := e.db.WithContext(ctx).Where("user_id = ? AND active", userID).Find(&rows).Error
	if errFind != nil {
		return 0, faults.Infra("list credentials", errFind)
	}
	revoked := 0
	for _, row := range rows {
		if errRevoke := e.RevokeCredential(ctx, EncodeCredentialID(row.CredentialID), reason); errRevoke != nil {
			return revoked, errRevoke
		}
		revoked++
	}
	return revoked, nil
}
