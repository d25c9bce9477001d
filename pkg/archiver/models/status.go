package models

import "errors"

// Status is the lifecycle state of an archive job.
type Status string

const (
	StatusUnknown            Status = "UNKNOWN"
	StatusUninitialized      Status = "UNINITIALIZED"
	StatusAwaitingProcessing Status = "AWAITING_PROCESSING"
	StatusRunning            Status = "RUNNING"
	StatusWaitingForBackup   Status = "WAITING_FOR_BACKUP"
	StatusFinalizing         Status = "FINALIZING"
	StatusFinished           Status = "FINISHED"
	StatusFailed             Status = "FAILED"
	StatusTimeout            Status = "TIMEOUT"
	StatusDeleted            Status = "DELETED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyComplete   = errors.New("job already completed")
)

// transitions lists the externally driven status changes. DELETED is never a
// target here; it is reached through the administrative delete only.
var transitions = map[Status][]Status{
	StatusUninitialized:      {StatusAwaitingProcessing, StatusRunning, StatusWaitingForBackup, StatusFinalizing, StatusFinished, StatusFailed, StatusTimeout},
	StatusAwaitingProcessing: {StatusRunning, StatusWaitingForBackup, StatusFinalizing, StatusFinished, StatusFailed, StatusTimeout},
	StatusRunning:            {StatusWaitingForBackup, StatusFinalizing, StatusFinished, StatusFailed, StatusTimeout},
	StatusWaitingForBackup:   {StatusRunning, StatusFinalizing, StatusFinished, StatusFailed, StatusTimeout},
	StatusFinalizing:         {StatusFinished, StatusFailed, StatusTimeout},
}

// AllStatuses returns every persistable status.
func AllStatuses() []Status {
	return []Status{
		StatusUninitialized,
		StatusAwaitingProcessing,
		StatusRunning,
		StatusWaitingForBackup,
		StatusFinalizing,
		StatusFinished,
		StatusFailed,
		StatusTimeout,
		StatusDeleted,
	}
}

func (s Status) IsValid() bool {
	for _, v := range AllStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// IsComplete reports whether s is terminal for externally driven transitions.
func (s Status) IsComplete() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusTimeout, StatusDeleted:
		return true
	}
	return false
}

// RevokesToken reports whether reaching s invalidates the job's access token.
func (s Status) RevokesToken() bool {
	switch s {
	case StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// CheckTransition validates an externally driven change from -> to.
func CheckTransition(from, to Status) error {
	if from.IsComplete() {
		return ErrAlreadyComplete
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// CanTransition reports whether from -> to is a legal external transition.
func CanTransition(from, to Status) bool {
	return CheckTransition(from, to) == nil
}

// DeleteTarget resolves the administrative delete transition. With a bound
// artifact every state moves to DELETED; without one only FINISHED does. The
// second return value is false when the delete is a no-op.
func DeleteTarget(from Status, hasArtifact bool) (Status, bool) {
	if hasArtifact {
		return StatusDeleted, true
	}
	if from == StatusFinished {
		return StatusDeleted, true
	}
	return from, false
}
