// Package passkey runs WebAuthn registration and authentication ceremonies:
// challenge issuance, attestation and assertion verification, sign-counter
// anti-replay, and credential lifecycle.
package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medvault/bioauth/internal/audit"
	"github.com/medvault/bioauth/internal/config"
	"github.com/medvault/bioauth/internal/faults"
	"github.com/medvault/bioauth/internal/identity"
	"github.com/medvault/bioauth/internal/lockout"
	"github.com/medvault/bioauth/internal/models"
)

// Engine owns WebAuthn credentials and their ceremonies.
type Engine struct {
	db        *gorm.DB
	web       *webauthn.WebAuthn
	directory identity.Directory
	limiter   *lockout.Manager
	trail     *audit.Trail

	challengeTTL  time.Duration
	strictCounter bool
	nowFn         func() time.Time
}

// NewEngine constructs an Engine from the WebAuthn config. nowFn may be nil.
func NewEngine(
	db *gorm.DB,
	cfg config.WebAuthnConfig,
	directory identity.Directory,
	limiter *lockout.Manager,
	trail *audit.Trail,
	nowFn func() time.Time,
) (*Engine, error) {
	if nowFn == nil {
		nowFn = time.Now
	}
	ttl := cfg.ChallengeTTL()
	web, errNew := webauthn.New(&webauthn.Config{
		RPID:                  cfg.RPID,
		RPDisplayName:         cfg.RPDisplayName,
		RPOrigins:             cfg.AllowedOrigins,
		AttestationPreference: attestationPreference(cfg.AttestationPolicy),
		Timeouts: webauthn.TimeoutsConfig{
			Registration: webauthn.TimeoutConfig{Enforce: true, Timeout: ttl},
			Login:        webauthn.TimeoutConfig{Enforce: true, Timeout: ttl},
		},
	})
	if errNew != nil {
		return nil, fmt.Errorf("passkey: init webauthn: %w", errNew)
	}
	return &Engine{
		db:            db,
		web:           web,
		directory:     directory,
		limiter:       limiter,
		trail:         trail,
		challengeTTL:  ttl,
		strictCounter: cfg.StrictCounterPolicy,
		nowFn:         nowFn,
	}, nil
}

// attestationPreference maps the config policy onto the protocol constant.
func attestationPreference(policy string) protocol.ConveyancePreference {
	switch policy {
	case "direct":
		return protocol.PreferDirectAttestation
	case "indirect":
		return protocol.PreferIndirectAttestation
	default:
		return protocol.PreferNoAttestation
	}
}

// EncodeCredentialID renders a raw credential ID for transport and audit.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCredentialID parses a transported credential ID.
func DecodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
}

// ceremonyUser adapts an identity and its stored credentials to the
// webauthn.User interface.
type ceremonyUser struct {
	user        identity.User
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *ceremonyUser) WebAuthnName() string                       { return u.user.ID }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.user.DisplayName }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
func (u *ceremonyUser) WebAuthnIcon() string                       { return "" }

// loadCeremonyUser resolves the user and decodes their active credentials.
func (e *Engine) loadCeremonyUser(ctx context.Context, userID string) (*ceremonyUser, []models.WebAuthnCredential, error) {
	user, errResolve := e.directory.Resolve(ctx, userID)
	if errResolve != nil {
		return nil, nil, faults.Wrap(faults.KindNotEnrolled, "resolve user", errResolve)
	}
	var rows []models.WebAuthnCredential
	errFind := e.db.WithContext(ctx).
		Where("user_id = ? AND active", user.ID).
		Order("id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, nil, faults.Infra("load credentials", errFind)
	}
	credentials := make([]webauthn.Credential, 0, len(rows))
	for _, row := range rows {
		credentials = append(credentials, rowToCredential(row))
	}
	return &ceremonyUser{user: user, credentials: credentials}, rows, nil
}

// rowToCredential reconstructs the library credential from a stored row.
func rowToCredential(row models.WebAuthnCredential) webauthn.Credential {
	var transports []protocol.AuthenticatorTransport
	if len(row.Transports) > 0 {
		var names []string
		if errUnmarshal := json.Unmarshal(row.Transports, &names); errUnmarshal == nil {
			for _, name := range names {
				transports = append(transports, protocol.AuthenticatorTransport(name))
			}
		}
	}
	return webauthn.Credential{
		ID:              row.CredentialID,
		PublicKey:       row.PublicKey,
		AttestationType: row.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: row.BackupEligible,
			BackupState:    row.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:     row.AAGUID,
			SignCount:  row.SignCount,
			Attachment: protocol.AuthenticatorAttachment(row.Attachment),
		},
	}
}

// storeSession upserts the single outstanding challenge for (user, purpose):
// issuing a new challenge invalidates the prior one.
func (e *Engine) storeSession(ctx context.Context, userID, purpose, deviceName string, session *webauthn.SessionData) error {
	payload, errMarshal := json.Marshal(session)
	if errMarshal != nil {
		return faults.Infra("encode session", errMarshal)
	}
	now := e.nowFn().UTC()
	row := models.CeremonySession{
		UserID:      userID,
		Purpose:     purpose,
		DeviceName:  deviceName,
		SessionJSON: payload,
		ExpiresAt:   now.Add(e.challengeTTL),
		CreatedAt:   now,
	}
	errUpsert := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "purpose"}},
		DoUpdates: clause.AssignmentColumns([]string{"device_name", "session_json", "expires_at", "created_at"}),
	}).Create(&row).Error
	if errUpsert != nil {
		return faults.Infra("store session", errUpsert)
	}
	return nil
}

// consumeSession loads and deletes the outstanding challenge. Challenges are
// single-use: they are consumed on any use, success or failure.
func (e *Engine) consumeSession(ctx context.Context, userID, purpose string) (webauthn.SessionData, string, error) {
	var row models.CeremonySession
	errFind := e.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ?", userID, purpose).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return webauthn.SessionData{}, "", faults.New(faults.KindChallengeMismatch, "no outstanding challenge")
	}
	if errFind != nil {
		return webauthn.SessionData{}, "", faults.Infra("load session", errFind)
	}

	if errDelete := e.db.WithContext(ctx).Delete(&models.CeremonySession{}, row.ID).Error; errDelete != nil {
		return webauthn.SessionData{}, "", faults.Infra("consume session", errDelete)
	}

	if row.Expired(e.nowFn().UTC()) {
		return webauthn.SessionData{}, "", faults.New(faults.KindChallengeExpired, "challenge expired")
	}

	var session webauthn.SessionData
	if errUnmarshal := json.Unmarshal(row.SessionJSON, &session); errUnmarshal != nil {
		return webauthn.SessionData{}, "", faults.Infra("decode session", errUnmarshal)
	}
	return session, row.DeviceName, nil
}

// ceremonyFault classifies a go-webauthn verification error into the
// taxonomy. The library reports one *protocol.Error for every failure mode,
// so classification inspects its details.
func ceremonyFault(err error) *faults.Error {
	var protoErr *protocol.Error
	if errors.As(err, &protoErr) {
		details := strings.ToLower(protoErr.Details + " " + protoErr.DevInfo)
		switch {
		case strings.Contains(details, "challenge"):
			return faults.Wrap(faults.KindChallengeMismatch, "challenge verification failed", err)
		case strings.Contains(details, "origin"), strings.Contains(details, "rp id"), strings.Contains(details, "rpid"):
			return faults.Wrap(faults.KindRPIDMismatch, "relying party verification failed", err)
		}
	}
	return faults.Wrap(faults.KindSignatureInvalid, "ceremony verification failed", err)
}

// checkLockout rejects the ceremony when the user's WebAuthn key is locked.
func (e *Engine) checkLockout(ctx context.Context, userID string) error {
	result, errCheck := e.limiter.Check(ctx, lockout.KeyForWebAuthn(userID))
	if errCheck != nil {
		return faults.Infra("lockout check", errCheck)
	}
	if !result.Locked {
		return nil
	}
	e.trail.Record(ctx, audit.Entry{
		UserID: userID,
		Kind:   models.EventRateLimited,
		Reason: string(faults.KindRateLimited),
	})
	return faults.New(faults.KindRateLimited, fmt.Sprintf("locked out until %s", result.LockedUntil.UTC().Format(time.RFC3339)))
}
