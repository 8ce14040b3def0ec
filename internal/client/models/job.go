// Package models defines the upload job records shared by the queue,
// scheduler, transfer clients and CLI.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
)

// JobSpec describes one file the caller wants uploaded.
type JobSpec struct {
	// SourceRef is an opaque handle to the local payload, a file path for
	// the bundled transfer clients.
	SourceRef string `json:"source_ref"`

	FileName     string `json:"file_name"`
	DeclaredSize int64  `json:"declared_size"`

	// DestinationParentID is the optional remote folder id.
	DestinationParentID string `json:"destination_parent_id,omitempty"`
}

// Validate checks the fields the queue relies on.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.FileName) == "" {
		return fmt.Errorf("%w: empty file name", common.ErrInvalidSpec)
	}
	if s.DeclaredSize < 0 {
		return fmt.Errorf("%w: negative size %d for %q", common.ErrInvalidSpec, s.DeclaredSize, s.FileName)
	}
	return nil
}

// Progress tracks transferred bytes for a job.
type Progress struct {
	BytesSent  uint64 `json:"bytes_sent"`
	BytesTotal uint64 `json:"bytes_total"`
	Percentage int    `json:"percentage"`
}

// NewProgress builds the progress of a job that is not yet completed.
// The percentage is round(sent/total*100) kept inside [1, 99] once any byte
// has been sent, so 0 means nothing sent and 100 is reserved for completion.
func NewProgress(sent, total uint64) Progress {
	if total > 0 && sent > total {
		sent = total
	}
	p := Progress{BytesSent: sent, BytesTotal: total}
	if sent == 0 || total == 0 {
		return p
	}
	pct := int(math.Round(float64(sent) / float64(total) * 100))
	p.Percentage = min(max(pct, 1), 99)
	return p
}

// CompletedProgress is the progress of a finished job.
func CompletedProgress(total uint64) Progress {
	return Progress{BytesSent: total, BytesTotal: total, Percentage: 100}
}

// UploadJob is one queued file transfer.
type UploadJob struct {
	ID                  string `json:"id"`
	Seq                 uint64 `json:"seq"`
	SourceRef           string `json:"source_ref"`
	FileName            string `json:"file_name"`
	DeclaredSize        int64  `json:"declared_size"`
	DestinationParentID string `json:"destination_parent_id,omitempty"`

	Status     Status   `json:"status"`
	Progress   Progress `json:"progress"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`

	// LastError is set only while Status is failed.
	LastError string `json:"last_error,omitempty"`

	// RemoteID is the identifier assigned by the remote on completion.
	RemoteID string `json:"remote_id,omitempty"`

	// NextAttemptAt gates a pending job during retry backoff. Zero means
	// eligible immediately.
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether a pending job may be dispatched at now.
func (j UploadJob) Eligible(now time.Time) bool {
	return j.Status == StatusPending && (j.NextAttemptAt.IsZero() || !j.NextAttemptAt.After(now))
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status        *Status
	Progress      *Progress
	RetryCount    *int
	LastError     *string
	RemoteID      *string
	NextAttemptAt *time.Time
}

// Apply merges p into j and reports whether any field changed.
// It does not validate the status transition.
func (p JobPatch) Apply(j *UploadJob) bool {
	changed := false
	if p.Status != nil && *p.Status != j.Status {
		j.Status = *p.Status
		changed = true
	}
	if p.Progress != nil && *p.Progress != j.Progress {
		j.Progress = *p.Progress
		changed = true
	}
	if p.RetryCount != nil && *p.RetryCount != j.RetryCount {
		j.RetryCount = *p.RetryCount
		changed = true
	}
	if p.LastError != nil && *p.LastError != j.LastError {
		j.LastError = *p.LastError
		changed = true
	}
	if p.RemoteID != nil && *p.RemoteID != j.RemoteID {
		j.RemoteID = *p.RemoteID
		changed = true
	}
	if p.NextAttemptAt != nil && !p.NextAttemptAt.Equal(j.NextAttemptAt) {
		j.NextAttemptAt = *p.NextAttemptAt
		changed = true
	}
	return changed
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
