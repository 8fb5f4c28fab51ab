package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/medvault/bioauth/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.AuditEvent{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

type capturePublisher struct {
	events []models.AuditEvent
}

func (p *capturePublisher) Publish(event models.AuditEvent) {
	p.events = append(p.events, event)
}

func TestTrail_RecordPersistsAndPublishes(t *testing.T) {
	db := openTestDB(t)
	publisher := &capturePublisher{}
	now := time.Unix(1700000000, 0).UTC()
	trail := NewTrail(db, publisher, func() time.Time { return now })

	quality := 0.91
	trail.Record(context.Background(), Entry{
		UserID:       "alice",
		Kind:         models.EventVerified,
		Modality:     models.ModalityFingerprint,
		Success:      true,
		TemplateID:   "tpl-1",
		QualityScore: &quality,
		Context:      map[string]string{"device": "scanner-7"},
	})

	var row models.AuditEvent
	if errFind := db.First(&row).Error; errFind != nil {
		t.Fatalf("find event: %v", errFind)
	}
	if row.EventID == "" {
		t.Fatalf("expected generated event id")
	}
	if row.Kind != models.EventVerified || !row.Success {
		t.Fatalf("unexpected event: %+v", row)
	}
	if !row.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at=%s, got %s", now, row.CreatedAt)
	}
	if len(row.Context) == 0 {
		t.Fatalf("expected context json persisted")
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.events))
	}
	if publisher.events[0].EventID != row.EventID {
		t.Fatalf("published event does not match persisted row")
	}
}

func TestTrail_RecordMergesClientContext(t *testing.T) {
	db := openTestDB(t)
	trail := NewTrail(db, nil, nil)

	ctx := WithClientContext(context.Background(), map[string]string{
		"clientIp":  "203.0.113.9",
		"userAgent": "scanner-agent/1.2",
		"device":    "from-request",
	})
	trail.Record(ctx, Entry{
		UserID:  "alice",
		Kind:    models.EventVerified,
		Success: true,
		Context: map[string]string{"device": "scanner-7"},
	})

	var row models.AuditEvent
	if errFind := db.First(&row).Error; errFind != nil {
		t.Fatalf("find event: %v", errFind)
	}
	var stored map[string]string
	if errUnmarshal := json.Unmarshal(row.Context, &stored); errUnmarshal != nil {
		t.Fatalf("decode context: %v", errUnmarshal)
	}
	if stored["clientIp"] != "203.0.113.9" || stored["userAgent"] != "scanner-agent/1.2" {
		t.Fatalf("expected request details persisted, got %v", stored)
	}
	// Explicit entry fields win over request-scoped values.
	if stored["device"] != "scanner-7" {
		t.Fatalf("expected entry context to win on collision, got %v", stored)
	}
}

func TestTrail_QueryFilters(t *testing.T) {
	db := openTestDB(t)
	base := time.Unix(1700000000, 0).UTC()
	current := base
	trail := NewTrail(db, nil, func() time.Time { return current })

	entries := []Entry{
		{UserID: "alice", Kind: models.EventVerified, Success: true},
		{UserID: "alice", Kind: models.EventNoMatch},
		{UserID: "bob", Kind: models.EventVerified, Success: true},
	}
	for i, entry := range entries {
		current = base.Add(time.Duration(i) * time.Second)
		trail.Record(context.Background(), entry)
	}

	aliceEvents, errQuery := trail.Query(context.Background(), "alice", "", 0)
	if errQuery != nil {
		t.Fatalf("query: %v", errQuery)
	}
	if len(aliceEvents) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(aliceEvents))
	}
	// Newest first.
	if aliceEvents[0].Kind != models.EventNoMatch {
		t.Fatalf("expected newest event first, got %s", aliceEvents[0].Kind)
	}

	verified, errQuery := trail.Query(context.Background(), "", models.EventVerified, 0)
	if errQuery != nil {
		t.Fatalf("query: %v", errQuery)
	}
	if len(verified) != 2 {
		t.Fatalf("expected 2 verified events, got %d", len(verified))
	}

	limited, errQuery := trail.Query(context.Background(), "", "", 1)
	if errQuery != nil {
		t.Fatalf("query: %v", errQuery)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit applied, got %d", len(limited))
	}
}
