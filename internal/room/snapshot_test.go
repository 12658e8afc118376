package room

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coordroom/coordroom/internal/types"
)

func TestFileSnapshotStoreLoadMissingReturnsNil(t *testing.T) {
	s := NewFileSnapshotStore(t.TempDir())
	snap, err := s.Load("r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for a room with no file yet, got %+v", snap)
	}
}

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSnapshotStore(dir)

	want := types.RoomSnapshot{
		RoomID:       "r1",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastActivity: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Preferences: map[string]types.AgentPreference{
			"agent1": {PreferredTopics: []string{"deploys"}, LastQuery: "how do I restart?"},
		},
		QueryHistory: []types.QueryHistoryEntry{
			{Query: "how do I restart?", Topic: "operational"},
		},
	}

	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := filepath.Abs(s.path("r1")); err != nil {
		t.Fatalf("path: %v", err)
	}

	got, err := s.Load("r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected a snapshot, got nil")
	}
	if got.RoomID != want.RoomID || !got.LastActivity.Equal(want.LastActivity) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.Preferences["agent1"].LastQuery != "how do I restart?" {
		t.Fatalf("preferences not round-tripped: %+v", got.Preferences)
	}
}

func TestSetSnapshotStoreRehydratesState(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSnapshotStore(dir)
	seed := types.RoomSnapshot{
		RoomID:      "r1",
		Preferences: map[string]types.AgentPreference{"agent1": {LastQuery: "seeded"}},
	}
	if err := s.Save(seed); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	r := New("r1", Config{}, nil, nil, nil, nil)
	r.SetSnapshotStore(s)

	if r.state.Preferences["agent1"].LastQuery != "seeded" {
		t.Fatalf("expected rehydrated state, got %+v", r.state)
	}
}
