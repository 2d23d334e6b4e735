package stats

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func newTestStore() *Store {
	return &Store{
		logger:   zap.NewNop(),
		sessions: make(map[string]SessionSnapshot),
	}
}

func TestCheckDuplicateShare_NoRedisAlwaysFalse(t *testing.T) {
	store := newTestStore()
	if store.CheckDuplicateShare(context.Background(), "key") {
		t.Error("expected false when no Redis backend is configured")
	}
}

func TestRecordShare_NoBackendsNoPanic(t *testing.T) {
	store := newTestStore()
	store.RecordShare(context.Background(), "addr", "worker", 1.0, true, 1000)
}

func TestTrackSessionAndSnapshot(t *testing.T) {
	store := newTestStore()
	store.TrackSession(context.Background(), "sess1", "addr1", "worker1", 1000)

	snapshots := store.SnapshotSessions()
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 tracked session, got %d", len(snapshots))
	}
	if snapshots[0].Address != "addr1" || snapshots[0].Worker != "worker1" {
		t.Errorf("unexpected snapshot: %+v", snapshots[0])
	}
}

func TestUpdateSession_OnlyUpdatesTracked(t *testing.T) {
	store := newTestStore()
	store.UpdateSession("unknown", SessionSnapshot{Address: "ghost"})

	if len(store.SnapshotSessions()) != 0 {
		t.Error("expected UpdateSession on an untracked ID to be a no-op")
	}

	store.TrackSession(context.Background(), "sess1", "addr1", "worker1", 1000)
	store.UpdateSession("sess1", SessionSnapshot{Address: "addr1", Worker: "worker1", SharesAccepted: 5})

	snapshots := store.SnapshotSessions()
	if len(snapshots) != 1 || snapshots[0].SharesAccepted != 5 {
		t.Errorf("expected updated snapshot with 5 accepted shares, got %+v", snapshots)
	}
}

func TestUntrackSession_RemovesFromSnapshot(t *testing.T) {
	store := newTestStore()
	store.TrackSession(context.Background(), "sess1", "addr1", "worker1", 1000)
	store.UntrackSession(context.Background(), "sess1")

	if len(store.SnapshotSessions()) != 0 {
		t.Error("expected session removed after UntrackSession")
	}
}

func TestUntrackSession_UnknownIDNoPanic(t *testing.T) {
	store := newTestStore()
	store.UntrackSession(context.Background(), "never-tracked")
}

func TestClose_NilBackendsNoPanic(t *testing.T) {
	store := newTestStore()
	store.Close()
}
