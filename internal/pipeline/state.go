package pipeline

import (
	"time"

	"github.com/JakeFAU/trailcam-archiver/internal/dedup"
)

// State is a step of the sync state machine.
type State string

// Working states.
const (
	StateInitializing State = "INITIALIZING"
	StateNavigating   State = "NAVIGATING"
	StateExtracting   State = "EXTRACTING"
	StateFetching     State = "FETCHING"
	StateDeduping     State = "DEDUPING"
	StateCommitting   State = "COMMITTING"
	StateAdvancing    State = "ADVANCING"
)

// Terminal states.
const (
	StateCompleted          State = "COMPLETED"
	StateStoppedAtWatermark State = "STOPPED_AT_WATERMARK"
	StateExhaustedAttempts  State = "EXHAUSTED_ATTEMPTS"
	StateFailed             State = "FAILED"
	StateCanceled           State = "CANCELED"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateStoppedAtWatermark, StateExhaustedAttempts, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// RunState is the ephemeral state of one run. Only the Orchestrator mutates it.
type RunState struct {
	RunID     string
	State     State
	Watermark string
	Seen      dedup.Set

	Successful int
	Attempts   int

	Visited    int
	Duplicates int
	Skipped    int
	Failures   int
	Jumped     int

	StartedAt time.Time
}

func newRunState(runID string, started time.Time) *RunState {
	return &RunState{
		RunID:     runID,
		State:     StateInitializing,
		Seen:      dedup.NewSet(),
		StartedAt: started,
	}
}
