package models

// Status is the lifecycle state of an upload job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions lists, per source status, the statuses a job may move to.
// Completed and Cancelled are terminal. Failed leaves only by explicit
// retry or cancel.
var transitions = map[Status][]Status{
	StatusPending:   {StatusUploading, StatusPaused, StatusCancelled},
	StatusUploading: {StatusCompleted, StatusFailed, StatusPending, StatusPaused, StatusCancelled},
	StatusPaused:    {StatusPending, StatusCancelled},
	StatusFailed:    {StatusPending, StatusCancelled},
}

// CanTransition reports whether a job in status from may move to status to.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
