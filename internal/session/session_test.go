package session

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSplitUsername_WithWorker(t *testing.T) {
	address, worker := splitUsername("bc1qxyz.rig1")
	if address != "bc1qxyz" || worker != "rig1" {
		t.Errorf("splitUsername = (%q, %q), want (bc1qxyz, rig1)", address, worker)
	}
}

func TestSplitUsername_NoWorkerDefaultsToDefault(t *testing.T) {
	address, worker := splitUsername("bc1qxyz")
	if address != "bc1qxyz" || worker != "default" {
		t.Errorf("splitUsername = (%q, %q), want (bc1qxyz, default)", address, worker)
	}
}

func TestSplitUsername_MultipleDotsSplitsAtFirst(t *testing.T) {
	address, worker := splitUsername("bc1qxyz.rig1.extra")
	if address != "bc1qxyz" || worker != "rig1.extra" {
		t.Errorf("splitUsername = (%q, %q), want (bc1qxyz, rig1.extra)", address, worker)
	}
}

func TestNextExtranonce1_MonotonicAndZeroPadded(t *testing.T) {
	first := nextExtranonce1()
	second := nextExtranonce1()
	if len(first) != 8 || len(second) != 8 {
		t.Fatalf("expected 8 hex chars, got %q and %q", first, second)
	}
	if first == second {
		t.Error("expected distinct successive values")
	}
}

func newTestSession() *Session {
	s := &Session{
		logger:      zap.NewNop(),
		connectedAt: time.Now(),
	}
	return s
}

func TestUpdateHashrate_WithinRangeSmooths(t *testing.T) {
	s := newTestSession()
	now := s.connectedAt.Add(10 * time.Second)
	s.updateHashrate(1.0, 0, now.UnixMilli())

	s.hashrateMu.Lock()
	hr := s.hashrate
	s.hashrateMu.Unlock()

	if hr <= 0 {
		t.Errorf("expected positive hashrate after first share, got %f", hr)
	}
}

func TestUpdateHashrate_OutOfRangeIgnored(t *testing.T) {
	s := newTestSession()
	prev := s.connectedAt.UnixMilli()
	now := prev + 700*1000 // 700s, outside the 0 < dt < 600 window

	s.updateHashrate(1.0, prev, now)

	s.hashrateMu.Lock()
	hr := s.hashrate
	s.hashrateMu.Unlock()

	if hr != 0 {
		t.Errorf("expected hashrate to remain 0 for out-of-range dt, got %f", hr)
	}
}

func TestSnapshot_ReflectsCounters(t *testing.T) {
	s := newTestSession()
	s.address = "addr1"
	s.workerName = "worker1"
	s.sharesAccepted.Store(3)
	s.sharesRejected.Store(1)

	snap := s.snapshot(42.0)
	if snap.Address != "addr1" || snap.Worker != "worker1" {
		t.Errorf("unexpected snapshot identity: %+v", snap)
	}
	if snap.SharesAccepted != 3 || snap.SharesRejected != 1 {
		t.Errorf("unexpected snapshot counters: %+v", snap)
	}
	if snap.BestDifficulty != 42.0 {
		t.Errorf("BestDifficulty = %f, want 42.0", snap.BestDifficulty)
	}
}

func TestHexStrings(t *testing.T) {
	branch := [][]byte{{0x01, 0x02}, {0xab, 0xcd}}
	got := hexStrings(branch)
	want := []string{"0102", "abcd"}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hexStrings[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestState_InitialIsConnected(t *testing.T) {
	s := newTestSession()
	if s.State() != StateConnected {
		t.Errorf("expected initial state Connected, got %v", s.State())
	}
	if s.Ready() {
		t.Error("expected Ready() false before authorization")
	}
}
