package protocol

import (
	"sync"
	"time"
)

// DifficultyConfig holds the parameters a variable-difficulty retargeter
// would use. §9 explicitly excludes vardiff from this pool's hot path —
// session difficulty is fixed at subscribe time — but the config surface is
// kept so an operator can see the knobs and a future implementer can wire
// VarDiff.CalculateNewDifficulty into the submit path.
type DifficultyConfig struct {
	InitialDifficulty float64
	MinDifficulty     float64
	MaxDifficulty     float64
	TargetShareTime   time.Duration
	RetargetTime      time.Duration
	VariancePercent   float64
}

// VarDiff implements variable difficulty adjustment. Unused by the hot
// submit path; see DifficultyConfig.
type VarDiff struct {
	config DifficultyConfig
}

// WorkerDiffState tracks the share-time history a VarDiff retargeter needs.
type WorkerDiffState struct {
	CurrentDifficulty float64
	ShareTimes        []time.Time
	LastRetargetTime  time.Time
	TotalShares       int64
	mu                sync.Mutex
}

// NewVarDiff creates a new VarDiff calculator.
func NewVarDiff(cfg DifficultyConfig) *VarDiff {
	return &VarDiff{config: cfg}
}

// NewWorkerDiffState creates a new difficulty state for a worker.
func NewWorkerDiffState(initialDiff float64) *WorkerDiffState {
	return &WorkerDiffState{
		CurrentDifficulty: initialDiff,
		ShareTimes:        make([]time.Time, 0, 100),
		LastRetargetTime:  time.Now(),
	}
}

// RecordShare records a share submission time.
func (w *WorkerDiffState) RecordShare(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ShareTimes = append(w.ShareTimes, t)
	w.TotalShares++

	if len(w.ShareTimes) > 100 {
		w.ShareTimes = w.ShareTimes[len(w.ShareTimes)-100:]
	}
}

// ShouldRetarget checks if it's time to recalculate difficulty.
func (v *VarDiff) ShouldRetarget(state *WorkerDiffState) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	return time.Since(state.LastRetargetTime) >= v.config.RetargetTime
}

// CalculateNewDifficulty computes the new difficulty for a worker, following
// a 4x rate-limited, 5%-significance-threshold retarget toward
// TargetShareTime. Not called anywhere in the submit path; retained as the
// retargeting algorithm an operator who enables vardiff later would use.
func (v *VarDiff) CalculateNewDifficulty(state *WorkerDiffState) (float64, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.ShareTimes) < 2 {
		return state.CurrentDifficulty, false
	}

	totalTime := state.ShareTimes[len(state.ShareTimes)-1].Sub(state.ShareTimes[0])
	count := len(state.ShareTimes) - 1
	avgShareTime := totalTime / time.Duration(count)

	targetTime := v.config.TargetShareTime
	variance := v.config.VariancePercent / 100.0

	lowerBound := time.Duration(float64(targetTime) * (1 - variance))
	upperBound := time.Duration(float64(targetTime) * (1 + variance))

	if avgShareTime >= lowerBound && avgShareTime <= upperBound {
		return state.CurrentDifficulty, false
	}

	ratio := float64(targetTime) / float64(avgShareTime)
	newDiff := state.CurrentDifficulty * ratio

	maxIncrease := state.CurrentDifficulty * 4
	maxDecrease := state.CurrentDifficulty / 4
	if newDiff > maxIncrease {
		newDiff = maxIncrease
	} else if newDiff < maxDecrease {
		newDiff = maxDecrease
	}

	if newDiff < v.config.MinDifficulty {
		newDiff = v.config.MinDifficulty
	} else if newDiff > v.config.MaxDifficulty {
		newDiff = v.config.MaxDifficulty
	}

	if abs(newDiff-state.CurrentDifficulty)/state.CurrentDifficulty < 0.05 {
		return state.CurrentDifficulty, false
	}

	state.CurrentDifficulty = newDiff
	state.LastRetargetTime = time.Now()
	state.ShareTimes = state.ShareTimes[:0]

	return newDiff, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
