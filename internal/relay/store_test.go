package relay

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Creates a session store for testing. A fresh sqlite database is created on
// every invocation since it is relatively cheap to do so.
func setUpStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatalf("error initializing test store: %s", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("error closing test store: %s", err)
		}
	})
	return store
}

func TestStore_SessionLifecycle(t *testing.T) {
	store := setUpStore(t)

	if err := store.RecordCreated("game-100", "10.0.0.1:5000"); err != nil {
		t.Fatalf("RecordCreated() returned an unexpected error: %v", err)
	}
	if err := store.RecordJoined("game-100", "10.0.0.2:5001"); err != nil {
		t.Fatalf("RecordJoined() returned an unexpected error: %v", err)
	}
	if err := store.RecordClosed("game-100", "Partner disconnected"); err != nil {
		t.Fatalf("RecordClosed() returned an unexpected error: %v", err)
	}

	record, err := store.FindSession("game-100")
	if err != nil {
		t.Fatalf("FindSession() returned an unexpected error: %v", err)
	}
	if record == nil {
		t.Fatal("FindSession() returned nil for a recorded session")
	}
	if record.CreatedBy != "10.0.0.1:5000" {
		t.Errorf("CreatedBy want = %s, got = %s", "10.0.0.1:5000", record.CreatedBy)
	}
	if record.ClosedAt == nil {
		t.Error("expected the session to be marked closed")
	}
	if record.CloseReason != "Partner disconnected" {
		t.Errorf("CloseReason want = %q, got = %q", "Partner disconnected", record.CloseReason)
	}

	events, err := store.SessionHistory("game-100")
	if err != nil {
		t.Fatalf("SessionHistory() returned an unexpected error: %v", err)
	}

	var got []string
	for _, e := range events {
		got = append(got, e.Event)
	}
	expected := []string{eventCreated, eventJoined, eventClosed}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("event history did not match expected; diff:\n%s", diff)
	}
}

func TestStore_FindSessionMissing(t *testing.T) {
	store := setUpStore(t)

	record, err := store.FindSession("never-created")
	if err != nil {
		t.Fatalf("FindSession() returned an unexpected error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil for an unknown session, got %+v", record)
	}
}
