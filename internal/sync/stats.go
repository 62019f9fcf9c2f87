package sync

import "time"

// Stats is the set of counters accumulated over one run. The engine walks
// a single goroutine, so plain increments suffice; a parallel walk would
// need to make these atomic.
type Stats struct {
	DirsSeen     int64
	DirsCreated  int64
	DirsDeleted  int64
	FilesSeen    int64
	FilesCreated int64
	FilesUpdated int64
	FilesDeleted int64
}

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Result is returned from every run, including cancelled and failed ones:
// the counters reflect whatever completed before the terminal state.
type Result struct {
	RunID    string
	Outcome  Outcome
	Stats    Stats
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration returns the wall-clock length of the run.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
