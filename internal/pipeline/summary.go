package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Summary reports how a run ended.
type Summary struct {
	RunID      string
	State      State
	Watermark  string
	Forced     bool
	Visited    int
	Archived   int
	Duplicates int
	Skipped    int
	Failures   int
	Attempts   int
	Jumped     int
	StartedAt  time.Time
	FinishedAt time.Time
	// Err is the cause of a FAILED or CANCELED run.
	Err error
}

func newSummary(rs *RunState, forced bool, finished time.Time, err error) Summary {
	return Summary{
		RunID:      rs.RunID,
		State:      rs.State,
		Watermark:  rs.Watermark,
		Forced:     forced,
		Visited:    rs.Visited,
		Archived:   rs.Successful,
		Duplicates: rs.Duplicates,
		Skipped:    rs.Skipped,
		Failures:   rs.Failures,
		Attempts:   rs.Attempts,
		Jumped:     rs.Jumped,
		StartedAt:  rs.StartedAt,
		FinishedAt: finished,
		Err:        err,
	}
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// OK reports whether the run ended cleanly.
func (s Summary) OK() bool {
	return s.State == StateCompleted || s.State == StateStoppedAtWatermark
}

// ExitCode maps the terminal state to a process exit code.
func (s Summary) ExitCode() int {
	switch s.State {
	case StateCompleted, StateStoppedAtWatermark:
		return 0
	case StateExhaustedAttempts:
		return 2
	default:
		return 1
	}
}

// Fields returns the summary as structured log fields.
func (s Summary) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("state", string(s.State)),
		zap.String("watermark", s.Watermark),
		zap.Bool("forced", s.Forced),
		zap.Int("visited", s.Visited),
		zap.Int("archived", s.Archived),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("skipped", s.Skipped),
		zap.Int("failures", s.Failures),
		zap.Int("attempts", s.Attempts),
		zap.Int("jumped", s.Jumped),
		zap.Duration("duration", s.Duration()),
	}
	if s.Err != nil {
		fields = append(fields, zap.Error(s.Err))
	}
	return fields
}

func (s Summary) String() string {
	out := fmt.Sprintf(
		"run %s: %s (visited=%d archived=%d duplicates=%d skipped=%d failures=%d jumped=%d) in %s",
		s.RunID, s.State, s.Visited, s.Archived, s.Duplicates, s.Skipped, s.Failures, s.Jumped,
		s.Duration().Round(time.Millisecond),
	)
	if s.Err != nil {
		out += ": " + s.Err.Error()
	}
	return out
}
