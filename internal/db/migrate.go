package db

import (
	"fmt"

	"github.com/medvault/bioauth/internal/models"
	"gorm.io/gorm"
)

// enrollmentStatusSelect is the body of the per-user enrollment read view
// joining biometric templates and WebAuthn credentials.
const enrollmentStatusSelect = `
SELECT u.user_id AS user_id,
	(SELECT COUNT(DISTINCT t.modality) FROM biometric_templates t
		WHERE t.user_id = u.user_id AND t.active) AS active_modality_count,
	(SELECT MAX(t.last_used_at) FROM biometric_templates t
		WHERE t.user_id = u.user_id) AS last_biometric_use,
	(SELECT COUNT(*) FROM web_authn_credentials c
		WHERE c.user_id = u.user_id AND c.active) AS active_credential_count,
	(SELECT MAX(c.last_used_at) FROM web_authn_credentials c
		WHERE c.user_id = u.user_id) AS last_credential_use
FROM (SELECT user_id FROM biometric_templates
	UNION SELECT user_id FROM web_authn_credentials) u`

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.BiometricTemplate{},
		&models.WebAuthnCredential{},
		&models.AuditEvent{},
		&models.CeremonySession{},
		&models.LockoutState{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	return createEnrollmentStatusView(conn)
}

// createEnrollmentStatusView installs the enrollment_status read view.
func createEnrollmentStatusView(conn *gorm.DB) error {
	var stmt string
	switch DialectName(conn) {
	case DialectSQLite:
		stmt = "CREATE VIEW IF NOT EXISTS enrollment_status AS" + enrollmentStatusSelect
	case DialectPostgres, "":
		stmt = "CREATE OR REPLACE VIEW enrollment_status AS" + enrollmentStatusSelect
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
	if errExec := conn.Exec(stmt).Error; errExec != nil {
		return fmt.Errorf("db: create enrollment_status view: %w", errExec)
	}
	return nil
}
