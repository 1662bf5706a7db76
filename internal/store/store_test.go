package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionCRUD(t *testing.T) {
	s := openTestStore(t)

	rec := &SessionRecord{
		ID:        "sess-1",
		Title:     "build",
		UserID:    "user-1",
		ProjectID: "proj-1",
		CWD:       "/work/proj-1",
		CreatedAt: time.Now(),
	}
	if err := s.PutSession(rec); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	recs, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "sess-1" || recs[0].Title != "build" {
		t.Fatalf("ListSessions = %+v", recs)
	}

	if err := s.RenameSession("sess-1", "deploy"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	recs, _ = s.ListSessions()
	if recs[0].Title != "deploy" {
		t.Errorf("title after rename = %q", recs[0].Title)
	}

	if err := s.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	recs, _ = s.ListSessions()
	if len(recs) != 0 {
		t.Errorf("sessions after delete = %+v", recs)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)

	val, err := s.GetConfig("missing")
	if err != nil || val != "" {
		t.Fatalf("GetConfig(missing) = %q, %v", val, err)
	}

	if err := s.SetConfig("jwt_secret", "abc"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	val, err = s.GetConfig("jwt_secret")
	if err != nil || val != "abc" {
		t.Fatalf("GetConfig = %q, %v", val, err)
	}

	// Overwrite
	if err := s.SetConfig("jwt_secret", "def"); err != nil {
		t.Fatal(err)
	}
	val, _ = s.GetConfig("jwt_secret")
	if val != "def" {
		t.Errorf("config after overwrite = %q", val)
	}
}
