package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", DefaultFileName))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSeedsSchemaVersion(t *testing.T) {
	db := openTestDB(t)

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("SchemaVersion: got %d, want %d", version, schemaVersion)
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	info := &models.SessionInfo{ID: "session-1", Title: "hello", LastActivity: now}
	messages := []models.Message{
		{LocalID: "l1", Role: schema.User, Content: "hi", Timestamp: now},
		{LocalID: "l2", ID: "d2", Role: schema.Assistant, Content: "hey", Provider: models.ProviderOpenAI, Timestamp: now},
	}

	if err := db.SaveSession(info, messages); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	record, err := db.LoadSession("session-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if record == nil || record.Info.Title != "hello" {
		t.Fatalf("LoadSession: got %+v", record)
	}
	if len(record.Messages) != 2 || record.Messages[1].ID != "d2" {
		t.Errorf("messages: got %+v", record.Messages)
	}
	if !record.Info.LastActivity.Equal(now) {
		t.Errorf("LastActivity: got %v, want %v", record.Info.LastActivity, now)
	}

	missing, err := db.LoadSession("nope")
	if err != nil || missing != nil {
		t.Errorf("LoadSession(missing): got %v, %v", missing, err)
	}
}

func TestDeleteAllSessionsKeepsCredentials(t *testing.T) {
	db := openTestDB(t)
	creds := NewCredentials(db)

	for _, id := range []string{"a", "b", "c"} {
		if err := db.SaveSession(&models.SessionInfo{ID: id}, nil); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	if err := creds.Set("u1", models.ProviderGroq, "gsk-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := db.DeleteSession("a"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	records, err := db.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("after delete: got %d sessions, want 2", len(records))
	}

	if err := db.DeleteAllSessions(); err != nil {
		t.Fatalf("DeleteAllSessions failed: %v", err)
	}
	records, _ = db.LoadSessions()
	if len(records) != 0 {
		t.Errorf("after clear: got %d sessions, want 0", len(records))
	}

	if _, ok, _ := creds.Get("u1", models.ProviderGroq); !ok {
		t.Error("credential removed by DeleteAllSessions")
	}
}

func TestCredentials(t *testing.T) {
	creds := NewCredentials(openTestDB(t))

	if _, ok, err := creds.Get("u1", models.ProviderOpenAI); err != nil || ok {
		t.Fatalf("Get(empty): ok=%v err=%v", ok, err)
	}

	if err := creds.Set("u1", models.ProviderOpenAI, "  sk-1  "); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := creds.Set("u1", models.ProviderAnthropic, "sk-ant"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := creds.Set("u2", models.ProviderGemini, "g-2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := creds.Set("u1", models.ProviderGroq, "   "); err == nil {
		t.Error("expected error for blank credential")
	}

	value, ok, err := creds.Get("u1", models.ProviderOpenAI)
	if err != nil || !ok || value != "sk-1" {
		t.Errorf("Get: got %q, %v, %v", value, ok, err)
	}

	providers, err := creds.Providers("u1")
	if err != nil {
		t.Fatalf("Providers failed: %v", err)
	}
	if len(providers) != 2 || providers[0] != models.ProviderAnthropic || providers[1] != models.ProviderOpenAI {
		t.Errorf("Providers: got %v", providers)
	}

	if err := creds.Delete("u1", models.ProviderOpenAI); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := creds.Get("u1", models.ProviderOpenAI); ok {
		t.Error("credential still present after Delete")
	}
	if _, ok, _ := creds.Get("u2", models.ProviderGemini); !ok {
		t.Error("other user's credential affected")
	}
}

func TestLoadSessionsSkipsCorruptRecords(t *testing.T) {
	db := openTestDB(t)

	good := &models.SessionInfo{ID: "good", Title: "kept", LastActivity: time.Now()}
	if err := db.SaveSession(good, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := db.put([]byte(sessionKeyPrefix+"bad"), []byte("{not json")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	records, err := db.LoadSessions()
	var corrupt *CorruptRecordsError
	if !errors.As(err, &corrupt) {
		t.Fatalf("LoadSessions error: got %v, want *CorruptRecordsError", err)
	}
	if len(corrupt.Keys) != 1 || corrupt.Keys[0] != sessionKeyPrefix+"bad" {
		t.Errorf("corrupt keys: %v", corrupt.Keys)
	}
	if len(records) != 1 || records[0].Info.ID != "good" {
		t.Errorf("records: %+v", records)
	}
}
