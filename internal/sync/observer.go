package sync

import "github.com/treesync/treesync/internal/store"

// Action identifies a mutation decision made by the engine.
type Action string

const (
	ActionCreate Action = "Create"
	ActionUpdate Action = "Update"
	ActionDelete Action = "Delete"
	ActionSkip   Action = "Skip"
)

// ActionRecord describes one decided mutation (or non-mutation). Records
// are delivered synchronously and must not be retained past the callback.
type ActionRecord struct {
	Action Action
	// Method is the equality method that decided the action: the proving
	// method for a skip, the disproving method for an update.
	Method Method
	Path   string
	Source store.Item // nil when the item exists only in target
	Target store.Item // nil when the item exists only in source
}

// ErrorRecord describes one failure. For retriable failures the record is
// delivered once per failed attempt; Attempt counts from 1. Final reports
// that retries are exhausted and the operation has failed for good.
//
// The observer may set Cancel to stop retrying and cancel the run, or (on
// a Final record) set Continue to skip the failed item and keep the run
// going.
type ErrorRecord struct {
	Err      error
	Attempt  int
	Path     string
	Final    bool
	Cancel   bool
	Continue bool
}

// ProgressRecord reports in-flight copy progress for a single file.
type ProgressRecord struct {
	Path   string
	Copied int64
	Total  int64
	Source store.Item
	Target store.Item
}

// Observer receives engine notifications. Callbacks run synchronously on
// the walk; a blocking observer stalls the run.
type Observer interface {
	OnAction(rec *ActionRecord)
	OnError(rec *ErrorRecord)
	OnProgress(rec *ProgressRecord)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) OnAction(*ActionRecord)     {}
func (NopObserver) OnError(*ErrorRecord)       {}
func (NopObserver) OnProgress(*ProgressRecord) {}
