package queue

import "github.com/dmitrijs2005/gophupload/internal/client/models"

type ChangeKind int

const (
	JobsAdded ChangeKind = iota + 1
	JobUpdated
	JobsRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case JobsAdded:
		return "added"
	case JobUpdated:
		return "updated"
	case JobsRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes one applied mutation.
type Change struct {
	Kind ChangeKind

	// Jobs holds the added jobs, the single updated job (after the update)
	// or the removed jobs (as they were when removed).
	Jobs []models.UploadJob

	// PreviousStatus is the status before a JobUpdated change.
	PreviousStatus models.Status

	// ProgressOnly is set when an update touched nothing but progress.
	ProgressOnly bool

	// Snapshot is the queue summary right after the mutation.
	Snapshot models.Snapshot
}

// Listener receives changes in the order mutations were applied. It runs
// outside the queue lock and may call back into the queue.
type Listener func(Change)
