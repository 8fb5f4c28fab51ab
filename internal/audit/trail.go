// Package audit provides the append-only record of every authentication
// attempt. The engine only appends and reads; retention and purging belong
// to external compliance collaborators.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/medvault/bioauth/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publisher forwards audit events to an external stream. Implementations
// must be best-effort: a failed publish never affects the auth path.
type Publisher interface {
	Publish(event models.AuditEvent)
}

// Trail writes audit events and serves the read side of the stream.
type Trail struct {
	db        *gorm.DB
	publisher Publisher
	nowFn     func() time.Time
}

// NewTrail constructs a Trail. publisher and nowFn may be nil.
func NewTrail(db *gorm.DB, publisher Publisher, nowFn func() time.Time) *Trail {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Trail{db: db, publisher: publisher, nowFn: nowFn}
}

type clientContextKey struct{}

// WithClientContext attaches caller device and network details (client IP,
// user agent) to the context. Record folds them into every event written on
// that request.
func WithClientContext(ctx context.Context, client map[string]string) context.Context {
	if len(client) == 0 {
		return ctx
	}
	return context.WithValue(ctx, clientContextKey{}, client)
}

// ClientContext returns the details attached by WithClientContext, nil when
// absent.
func ClientContext(ctx context.Context) map[string]string {
	client, _ := ctx.Value(clientContextKey{}).(map[string]string)
	return client
}

// Entry carries the fields of one audit event before persistence.
type Entry struct {
	UserID       string
	Kind         models.EventKind
	Modality     models.Modality
	Success      bool
	TemplateID   string
	CredentialID string
	QualityScore *float64
	MatchScore   *float64
	Reason       string
	Context      map[string]string
}

// Record appends one event. Failures are logged and reported but must not
// roll back the verdict that was already reached: the write is best-effort
// on the caller's path, never silently dropped.
func (t *Trail) Record(ctx context.Context, entry Entry) {
	event := models.AuditEvent{
		EventID:       uuid.NewString(),
		UserID:        entry.UserID,
		Kind:          entry.Kind,
		Modality:      entry.Modality,
		Success:       entry.Success,
		TemplateID:    entry.TemplateID,
		CredentialID:  entry.CredentialID,
		QualityScore:  entry.QualityScore,
		MatchScore:    entry.MatchScore,
		FailureReason: entry.Reason,
		CreatedAt:     t.nowFn().UTC(),
	}
	// Entry fields win over request-scoped client details on key collisions.
	merged := map[string]string{}
	for k, v := range ClientContext(ctx) {
		merged[k] = v
	}
	for k, v := range entry.Context {
		merged[k] = v
	}
	if len(merged) > 0 {
		if raw, errMarshal := json.Marshal(merged); errMarshal == nil {
			event.Context = datatypes.JSON(raw)
		}
	}

	if errCreate := t.db.WithContext(ctx).Create(&event).Error; errCreate != nil {
		log.WithError(errCreate).WithFields(log.Fields{
			"user": entry.UserID,
			"kind": entry.Kind,
		}).Error("audit: append failed")
		return
	}
	if t.publisher != nil {
		t.publisher.Publish(event)
	}
}

// Query lists events, newest first, with optional user and kind filters.
func (t *Trail) Query(ctx context.Context, userID string, kind models.EventKind, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := t.db.WithContext(ctx).Model(&models.AuditEvent{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var rows []models.AuditEvent
	if errFind := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
