package store

import (
	"testing"
	"time"

	"github.com/parleychat/parley/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.LoadSession(); err != nil || ok {
		t.Fatalf("fresh store should have no session (ok=%v, err=%v)", ok, err)
	}

	user := model.User{
		ID:          "u1",
		DisplayName: "alice",
		AboutMe:     "hi there",
		Interests:   []string{"go", "chess"},
	}
	if err := s.SaveSession(user); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, ok, err := s.LoadSession()
	if err != nil || !ok {
		t.Fatalf("LoadSession failed (ok=%v): %v", ok, err)
	}
	if got.ID != user.ID || got.DisplayName != user.DisplayName || len(got.Interests) != 2 {
		t.Errorf("loaded %+v, want %+v", got, user)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if _, ok, _ := s.LoadSession(); ok {
		t.Error("session survived ClearSession")
	}
}

func TestSaveSessionOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSession(model.User{ID: "u1", DisplayName: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSession(model.User{ID: "u2", DisplayName: "bob"}); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.LoadSession()
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "u2" {
		t.Errorf("loaded id = %q, want the later save u2", got.ID)
	}
}

func TestOutboxAtMostOnceRestore(t *testing.T) {
	s := openTestStore(t)

	pending := []model.PendingMessage{
		{ForumID: "f1", UserID: "u1", Text: "first", QueuedAt: time.Now().UTC()},
		{ForumID: "f1", UserID: "u1", Text: "second", QueuedAt: time.Now().UTC()},
	}
	if err := s.ParkOutbox(pending); err != nil {
		t.Fatalf("ParkOutbox failed: %v", err)
	}

	got, err := s.TakeOutbox()
	if err != nil {
		t.Fatalf("TakeOutbox failed: %v", err)
	}
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Errorf("restored outbox out of order: %+v", got)
	}

	// The parked copy is consumed by the first take.
	again, err := s.TakeOutbox()
	if err != nil {
		t.Fatalf("second TakeOutbox failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second take replayed the same batch: %+v", again)
	}
}

func TestParkEmptyOutboxClearsParking(t *testing.T) {
	s := openTestStore(t)

	if err := s.ParkOutbox([]model.PendingMessage{{ForumID: "f1", Text: "old"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ParkOutbox(nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.TakeOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("stale parking survived an empty park: %+v", got)
	}
}
