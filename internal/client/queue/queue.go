// Package queue is the authoritative store of upload jobs. Every mutation
// is serialized behind one mutex, persisted, and announced to listeners in
// the order it was applied.
package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/stats"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/google/uuid"
)

type Options struct {
	// MaxRetries is stamped on every job created by AddJobs. Zero means
	// never retry.
	MaxRetries int
	Logger     logging.Logger
	Clock      func() time.Time
	NewID      func() string
}

type listenerEntry struct {
	id uint64
	fn Listener
}

type Queue struct {
	mu sync.Mutex

	jobs  []*models.UploadJob // kept sorted by Seq
	index map[string]*models.UploadJob
	seq   uint64

	maxRetries int
	persister  Persister
	log        logging.Logger
	now        func() time.Time
	newID      func() string

	listeners      []listenerEntry
	nextListenerID uint64
	pending        []Change
	dispatching    bool
}

// New builds a queue and restores whatever persister holds. Jobs that were
// uploading when the previous process stopped come back as pending with
// their progress reset.
func New(ctx context.Context, p Persister, opts Options) (*Queue, error) {
	if p == nil {
		p = NopPersister{}
	}
	q := &Queue{
		index:      make(map[string]*models.UploadJob),
		maxRetries: opts.MaxRetries,
		persister:  p,
		log:        opts.Logger,
		now:        opts.Clock,
		newID:      opts.NewID,
	}
	if q.maxRetries < 0 {
		q.maxRetries = 0
	}
	if q.log == nil {
		q.log = logging.Discard()
	}
	q.log = q.log.With("component", "queue")
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}

	stored, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	if q.restore(stored) {
		q.persist()
	}
	return q, nil
}

// restore loads stored jobs and reports whether any of them was rewritten.
func (q *Queue) restore(stored []models.UploadJob) bool {
	// jobs written without a sequence keep their stored order
	legacy := slices.ContainsFunc(stored, func(j models.UploadJob) bool { return j.Seq == 0 })

	rewritten := false
	for i := range stored {
		j := stored[i]
		if j.ID == "" || q.index[j.ID] != nil {
			q.log.Warn(context.Background(), "dropping stored job without unique id", "file_name", j.FileName)
			rewritten = true
			continue
		}
		if legacy {
			j.Seq = uint64(i + 1)
			rewritten = true
		}
		if !j.Status.Valid() || j.Status == models.StatusUploading {
			j.Status = models.StatusPending
			j.Progress = models.NewProgress(0, j.Progress.BytesTotal)
			j.NextAttemptAt = time.Time{}
			rewritten = true
		}
		q.jobs = append(q.jobs, &j)
		q.index[j.ID] = &j
		q.seq = max(q.seq, j.Seq)
	}

	slices.SortStableFunc(q.jobs, func(a, b *models.UploadJob) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	if len(q.jobs) > 0 {
		q.log.Info(context.Background(), "queue restored", "jobs", len(q.jobs))
	}
	return rewritten
}

// AddJobs creates one pending job per spec, in input order. Either every
// spec is valid and all jobs are created, or none is.
func (q *Queue) AddJobs(specs []models.JobSpec) ([]models.UploadJob, error) {
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
	}
	if len(specs) == 0 {
		return nil, nil
	}

	q.mu.Lock()
	now := q.now()
	created := make([]models.UploadJob, 0, len(specs))
	for _, s := range specs {
		q.seq++
		j := &models.UploadJob{
			ID:                  q.newID(),
			Seq:                 q.seq,
			SourceRef:           s.SourceRef,
			FileName:            s.FileName,
			DeclaredSize:        s.DeclaredSize,
			DestinationParentID: s.DestinationParentID,
			Status:              models.StatusPending,
			Progress:            models.NewProgress(0, uint64(s.DeclaredSize)),
			MaxRetries:          q.maxRetries,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		q.jobs = append(q.jobs, j)
		q.index[j.ID] = j
		created = append(created, *j)
	}
	q.persist()
	q.emit(Change{Kind: JobsAdded, Jobs: slices.Clone(created)})
	q.unlockAndDispatch()

	return created, nil
}

func (q *Queue) GetJob(id string) (models.UploadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.index[id]
	if !ok {
		return models.UploadJob{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return *j, nil
}

// UpdateJob merges patch into the job. A status change not allowed by the
// state machine fails with common.ErrInvalidTransition. While a job stays
// uploading, a progress update that would move it backwards is dropped.
// An update that changes nothing is neither persisted nor announced.
func (q *Queue) UpdateJob(id string, patch models.JobPatch) (models.UploadJob, error) {
	j, _, err := q.update(id, nil, patch)
	return j, err
}

// UpdateJobFrom applies patch only while the job is in status from and
// reports whether it did. A job found in any other status is returned
// unchanged without error.
func (q *Queue) UpdateJobFrom(id string, from models.Status, patch models.JobPatch) (models.UploadJob, bool, error) {
	return q.update(id, &from, patch)
}

func (q *Queue) update(id string, from *models.Status, patch models.JobPatch) (models.UploadJob, bool, error) {
	q.mu.Lock()

	j, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return models.UploadJob{}, false, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}

	prev := *j
	if from != nil && prev.Status != *from {
		q.mu.Unlock()
		return prev, false, nil
	}

	target := prev.Status
	if patch.Status != nil {
		target = *patch.Status
		if !models.CanTransition(prev.Status, target) {
			q.mu.Unlock()
			return prev, false, fmt.Errorf("job %s %s -> %s: %w", id, prev.Status, target, common.ErrInvalidTransition)
		}
	}

	if patch.Progress != nil && prev.Status == models.StatusUploading && target == models.StatusUploading &&
		patch.Progress.BytesSent < prev.Progress.BytesSent {
		patch.Progress = nil
	}

	next := prev
	if !patch.Apply(&next) {
		q.mu.Unlock()
		return prev, true, nil
	}
	normalize(&next)
	if next == prev {
		q.mu.Unlock()
		return prev, true, nil
	}

	progressOnly := next.Status == prev.Status && next.RetryCount == prev.RetryCount &&
		next.LastError == prev.LastError && next.RemoteID == prev.RemoteID &&
		next.NextAttemptAt.Equal(prev.NextAttemptAt)

	next.UpdatedAt = q.now()
	*j = next
	// byte counts move on every read; only a new percentage is worth a save
	if !progressOnly || next.Progress.Percentage != prev.Progress.Percentage {
		q.persist()
	}
	q.emit(Change{Kind: JobUpdated, Jobs: []models.UploadJob{next}, PreviousStatus: prev.Status, ProgressOnly: progressOnly})
	q.unlockAndDispatch()

	return next, true, nil
}

// normalize keeps per-status invariants: only failed jobs carry an error
// and only completed jobs report 100%.
func normalize(j *models.UploadJob) {
	if j.Status != models.StatusFailed {
		j.LastError = ""
	}
	switch {
	case j.Status == models.StatusCompleted:
		total := j.Progress.BytesTotal
		if total == 0 {
			total = uint64(max(j.DeclaredSize, 0))
		}
		j.Progress = models.CompletedProgress(total)
	case j.Progress.Percentage >= 100:
		j.Progress = models.NewProgress(j.Progress.BytesSent, j.Progress.BytesTotal)
	}
}

func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	j, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	removed := []models.UploadJob{*j}
	q.removeWhere(func(x *models.UploadJob) bool { return x.ID == id })
	q.persist()
	q.emit(Change{Kind: JobsRemoved, Jobs: removed})
	q.unlockAndDispatch()
	return nil
}

// ClearCompleted drops completed jobs and returns them.
func (q *Queue) ClearCompleted() []models.UploadJob {
	return q.clear(func(j *models.UploadJob) bool { return j.Status == models.StatusCompleted })
}

// ClearAll drops every job and returns them. The resulting change lists
// them so in-flight transfers can be aborted.
func (q *Queue) ClearAll() []models.UploadJob {
	return q.clear(func(*models.UploadJob) bool { return true })
}

func (q *Queue) clear(match func(*models.UploadJob) bool) []models.UploadJob {
	q.mu.Lock()
	var removed []models.UploadJob
	for _, j := range q.jobs {
		if match(j) {
			removed = append(removed, *j)
		}
	}
	if len(removed) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.removeWhere(match)
	q.persist()
	q.emit(Change{Kind: JobsRemoved, Jobs: slices.Clone(removed)})
	q.unlockAndDispatch()
	return removed
}

func (q *Queue) removeWhere(match func(*models.UploadJob) bool) {
	q.jobs = slices.DeleteFunc(q.jobs, func(j *models.UploadJob) bool {
		if match(j) {
			delete(q.index, j.ID)
			return true
		}
		return false
	})
}

// Jobs returns a copy of all jobs in enqueue order.
func (q *Queue) Jobs() []models.UploadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.copyJobs()
}

func (q *Queue) Snapshot() models.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return stats.Compute(q.copyJobs())
}

// Subscribe registers l and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (q *Queue) Subscribe(l Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextListenerID++
	id := q.nextListenerID
	q.listeners = append(q.listeners, listenerEntry{id: id, fn: l})

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.listeners = slices.DeleteFunc(q.listeners, func(e listenerEntry) bool { return e.id == id })
	}
}

func (q *Queue) copyJobs() []models.UploadJob {
	out := make([]models.UploadJob, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = *j
	}
	return out
}

// persist must be called with q.mu held so saves land in mutation order.
func (q *Queue) persist() {
	if err := q.persister.Save(context.Background(), q.copyJobs()); err != nil {
		q.log.Error(context.Background(), "failed to persist queue", "error", err)
	}
}

// emit must be called with q.mu held.
func (q *Queue) emit(c Change) {
	c.Snapshot = stats.Compute(q.copyJobs())
	q.pending = append(q.pending, c)
}

// unlockAndDispatch releases q.mu and delivers pending changes. Only one
// goroutine delivers at a time; changes queued by others meanwhile,
// including from listeners calling back into the queue, are delivered by
// that goroutine in order.
func (q *Queue) unlockAndDispatch() {
	if q.dispatching {
		q.mu.Unlock()
		return
	}
	q.dispatching = true
	for len(q.pending) > 0 {
		batch := q.pending
		q.pending = nil
		listeners := slices.Clone(q.listeners)
		q.mu.Unlock()

		for _, c := range batch {
			for _, l := range listeners {
				l.fn(c)
			}
		}

		q.mu.Lock()
	}
	q.dispatching = false
	q.mu.Unlock()
}
