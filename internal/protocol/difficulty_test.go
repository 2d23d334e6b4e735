package protocol

import (
	"testing"
	"time"
)

func testDifficultyConfig() DifficultyConfig {
	return DifficultyConfig{
		InitialDifficulty: 1,
		MinDifficulty:     0.001,
		MaxDifficulty:     1000000,
		TargetShareTime:   10 * time.Second,
		RetargetTime:      90 * time.Second,
		VariancePercent:   30,
	}
}

func TestVarDiff_ShouldRetarget(t *testing.T) {
	v := NewVarDiff(testDifficultyConfig())
	state := NewWorkerDiffState(1.0)
	state.LastRetargetTime = time.Now().Add(-100 * time.Second)

	if !v.ShouldRetarget(state) {
		t.Error("expected retarget due after RetargetTime has elapsed")
	}
}

func TestVarDiff_ShouldNotRetargetTooSoon(t *testing.T) {
	v := NewVarDiff(testDifficultyConfig())
	state := NewWorkerDiffState(1.0)

	if v.ShouldRetarget(state) {
		t.Error("did not expect retarget immediately after creation")
	}
}

func TestVarDiff_CalculateNewDifficulty_InsufficientHistory(t *testing.T) {
	v := NewVarDiff(testDifficultyConfig())
	state := NewWorkerDiffState(1.0)
	state.RecordShare(time.Now())

	diff, changed := v.CalculateNewDifficulty(state)
	if changed {
		t.Error("did not expect a change with fewer than 2 recorded shares")
	}
	if diff != 1.0 {
		t.Errorf("diff = %f, want unchanged 1.0", diff)
	}
}

func TestVarDiff_CalculateNewDifficulty_FastSharesIncreaseDifficulty(t *testing.T) {
	v := NewVarDiff(testDifficultyConfig())
	state := NewWorkerDiffState(1.0)

	base := time.Now()
	// Shares arriving every 1s against a 10s target: should ramp difficulty up.
	for i := 0; i < 10; i++ {
		state.RecordShare(base.Add(time.Duration(i) * time.Second))
	}

	diff, changed := v.CalculateNewDifficulty(state)
	if !changed {
		t.Fatal("expected a difficulty change for consistently fast shares")
	}
	if diff <= 1.0 {
		t.Errorf("expected difficulty to increase, got %f", diff)
	}
}

func TestVarDiff_CalculateNewDifficulty_WithinVarianceNoChange(t *testing.T) {
	v := NewVarDiff(testDifficultyConfig())
	state := NewWorkerDiffState(1.0)

	base := time.Now()
	for i := 0; i < 5; i++ {
		state.RecordShare(base.Add(time.Duration(i) * 10 * time.Second))
	}

	_, changed := v.CalculateNewDifficulty(state)
	if changed {
		t.Error("did not expect a change when average share time matches target")
	}
}

func TestAbs(t *testing.T) {
	if abs(-5.0) != 5.0 {
		t.Error("abs(-5.0) should be 5.0")
	}
	if abs(5.0) != 5.0 {
		t.Error("abs(5.0) should be 5.0")
	}
}
