package models

import (
	"errors"
	"fmt"
)

// SyncStatus is the per-product sync state
type SyncStatus string

const (
	StatusNever      SyncStatus = "never"
	StatusPending    SyncStatus = "pending"
	StatusProcessing SyncStatus = "processing"
	StatusSuccess    SyncStatus = "success"
	StatusFailed     SyncStatus = "failed"
)

// SyncEvent drives SyncStatus transitions
type SyncEvent string

const (
	EventLocalChange   SyncEvent = "local_change"
	EventPushStarted   SyncEvent = "push_started"
	EventPushSucceeded SyncEvent = "push_succeeded"
	EventPushFailed    SyncEvent = "push_failed"
	EventPullImported  SyncEvent = "pull_imported"
)

var ErrInvalidTransition = errors.New("invalid sync status transition")

// Valid reports whether s is one of the known states.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusNever, StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Transition returns the state that follows current on event.
//
// A push may start from any state: bulk pushes target rows that are not
// pending, and the dispatcher may re-run a push that is already processing.
// Only a running push can finish.
func Transition(current SyncStatus, event SyncEvent) (SyncStatus, error) {
	if current == "" {
		current = StatusNever
	}
	if !current.Valid() {
		return current, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, current)
	}

	switch event {
	case EventLocalChange:
		return StatusPending, nil
	case EventPushStarted:
		return StatusProcessing, nil
	case EventPushSucceeded, EventPushFailed:
		if current != StatusProcessing {
			return current, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, current)
		}
		if event == EventPushSucceeded {
			return StatusSuccess, nil
		}
		return StatusFailed, nil
	case EventPullImported:
		return StatusSuccess, nil
	}

	return current, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
}
