// Package scheduler drives upload jobs through their lifecycle. A single
// loop promotes pending jobs to uploading within a concurrency bound while
// the network is up, runs transfers in their own goroutines and applies
// the retry policy to their outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/netmon"
	"github.com/dmitrijs2005/gophupload/internal/client/queue"
	"github.com/dmitrijs2005/gophupload/internal/client/transfer"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/logging"
)

const (
	DefaultMaxConcurrent = 3
	DefaultBackoffBase   = time.Second
	DefaultBackoffCap    = 30 * time.Second
	DefaultCancelGrace   = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("scheduler already running")

type Config struct {
	MaxConcurrent int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	// CancelGrace bounds how long an aborted transfer may take to return
	// before its job is settled without it.
	CancelGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = DefaultCancelGrace
	}
	return c
}

// Callbacks fire once per terminal transition, outside any lock.
type Callbacks struct {
	OnComplete func(job models.UploadJob)
	OnError    func(job models.UploadJob, err error)
}

type Options struct {
	Config    Config
	Callbacks Callbacks
	Logger    logging.Logger
	Clock     func() time.Time
}

// abortReason says why a running transfer was aborted. A higher value
// overrides a lower one.
type abortReason int

const (
	reasonNone abortReason = iota
	reasonDisconnect
	reasonShutdown
	reasonPause
	reasonCancel
	reasonRemoved
)

func (r abortReason) String() string {
	switch r {
	case reasonCancel:
		return "cancel"
	case reasonPause:
		return "pause"
	case reasonDisconnect:
		return "disconnect"
	case reasonRemoved:
		return "removed"
	case reasonShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// inflight is one running transfer. It occupies a concurrency slot until
// the transfer returns or the grace period after an abort runs out.
type inflight struct {
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// settleOnce guards the job's final transition for this attempt.
	settleOnce sync.Once

	// guarded by Scheduler.mu
	launched bool
	reason   abortReason
	grace    *time.Timer
}

type Scheduler struct {
	q      *queue.Queue
	mon    netmon.Monitor
	client transfer.Client
	cfg    Config
	cb     Callbacks
	log    logging.Logger
	now    func() time.Time

	wake chan struct{}

	mu        sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	loopDone  chan struct{}
	unsub     []func()
	active    map[string]*inflight
	timer     *time.Timer
	wakeAt    time.Time
}

func New(q *queue.Queue, mon netmon.Monitor, client transfer.Client, opts Options) *Scheduler {
	s := &Scheduler{
		q:      q,
		mon:    mon,
		client: client,
		cfg:    opts.Config.withDefaults(),
		cb:     opts.Callbacks,
		log:    opts.Logger,
		now:    opts.Clock,
		wake:   make(chan struct{}, 1),
		active: make(map[string]*inflight),
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = s.log.With("component", "scheduler")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start launches the dispatch loop. It returns ErrAlreadyRunning if the
// scheduler is already started. Cancelling ctx has the same effect as Stop
// except that it does not wait.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	runCtx, loopDone := s.runCtx, s.loopDone
	s.mu.Unlock()

	unsubQ := s.q.Subscribe(s.onQueueChange)
	unsubN := s.mon.OnChange(s.onNetworkChange)

	s.mu.Lock()
	s.unsub = []func(){unsubQ, unsubN}
	s.mu.Unlock()

	go s.loop(runCtx, loopDone)
	s.kick()

	s.log.Info(ctx, "scheduler started", "max_concurrent", s.cfg.MaxConcurrent)
	return nil
}

// Stop aborts running transfers and waits for the loop to exit. Aborted
// jobs return to pending so the next Start picks them up again. Transfers
// that ignore cancellation are waited for at most CancelGrace.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.runCancel()
	unsub := s.unsub
	s.unsub = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.wakeAt = time.Time{}
	}
	flights := make([]*inflight, 0, len(s.active))
	for _, f := range s.active {
		f.reason = max(f.reason, reasonShutdown)
		flights = append(flights, f)
	}
	loopDone := s.loopDone
	s.mu.Unlock()

	for _, u := range unsub {
		u()
	}
	<-loopDone

	deadline := time.NewTimer(s.cfg.CancelGrace)
	defer deadline.Stop()
	expired := false
	for _, f := range flights {
		if !expired {
			select {
			case <-f.done:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		select {
		case <-f.done:
		default:
			s.forceSettle(f)
		}
	}

	s.log.Info(context.Background(), "scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) onQueueChange(c queue.Change) {
	if c.Kind == queue.JobsRemoved {
		for _, j := range c.Jobs {
			s.abort(j.ID, reasonRemoved)
		}
	}
	if !c.ProgressOnly {
		s.kick()
	}
}

func (s *Scheduler) onNetworkChange(st models.NetworkStatus) {
	if st.IsConnected {
		s.log.Info(context.Background(), "network connected, resuming dispatch")
		s.kick()
		return
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.log.Warn(context.Background(), "network disconnected", "in_flight", len(ids))
	for _, id := range ids {
		s.abort(id, reasonDisconnect)
	}
}

// dispatch promotes the oldest eligible pending jobs while slots are free.
func (s *Scheduler) dispatch(ctx context.Context) {
	if ctx.Err() != nil || !s.mon.Current().IsConnected {
		return
	}

	now := s.now()
	jobs := s.q.Jobs()

	uploading := 0
	for _, j := range jobs {
		if j.Status == models.StatusUploading {
			uploading++
		}
	}
	s.mu.Lock()
	busy := max(uploading, len(s.active))
	s.mu.Unlock()

	var nextAttempt time.Time
	for _, j := range jobs {
		if j.Status != models.StatusPending {
			continue
		}
		if !j.Eligible(now) {
			if nextAttempt.IsZero() || j.NextAttemptAt.Before(nextAttempt) {
				nextAttempt = j.NextAttemptAt
			}
			continue
		}
		if busy >= s.cfg.MaxConcurrent {
			break
		}
		f := s.reserve(ctx, j.ID)
		if f == nil {
			// previous attempt has not returned yet
			continue
		}

		started, applied, err := s.q.UpdateJobFrom(j.ID, models.StatusPending, models.JobPatch{
			Status:        models.Ptr(models.StatusUploading),
			Progress:      models.Ptr(models.NewProgress(0, uint64(max(j.DeclaredSize, 0)))),
			NextAttemptAt: models.Ptr(time.Time{}),
		})
		if err != nil || !applied {
			f.cancel()
			s.unreserve(f)
			continue
		}
		s.launch(ctx, f, started)
		busy++
	}

	if !nextAttempt.IsZero() {
		s.wakeAfter(nextAttempt.Sub(now))
	}
}

// reserve takes a slot for id before the job is marked uploading, so an
// abort arriving in between finds it. It returns nil if id already holds
// one.
func (s *Scheduler) reserve(ctx context.Context, id string) *inflight {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		return nil
	}
	tctx, cancel := context.WithCancel(ctx)
	f := &inflight{jobID: id, ctx: tctx, cancel: cancel, done: make(chan struct{})}
	s.active[id] = f
	return f
}

func (s *Scheduler) unreserve(f *inflight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[f.jobID] == f {
		delete(s.active, f.jobID)
	}
	if f.grace != nil {
		f.grace.Stop()
	}
	close(f.done)
}

// wakeAfter arms the backoff timer unless an earlier wake is already due.
func (s *Scheduler) wakeAfter(d time.Duration) {
	d = max(d, time.Millisecond)
	at := time.Now().Add(d)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.timer != nil && !s.wakeAt.IsZero() && !at.Before(s.wakeAt) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.wakeAt = at
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.wakeAt = time.Time{}
		s.timer = nil
		s.mu.Unlock()
		s.kick()
	})
}

func (s *Scheduler) launch(ctx context.Context, f *inflight, job models.UploadJob) {
	s.mu.Lock()
	f.launched = true
	s.mu.Unlock()

	log := s.log.With("job_id", job.ID, "file_name", job.FileName)
	log.Info(ctx, "upload started", "attempt", job.RetryCount+1)

	go func() {
		defer close(f.done)
		defer f.cancel()

		rf, err := s.client.Transfer(f.ctx, job, func(sent, total uint64) {
			s.onProgress(f, sent, total)
		})
		if err != nil {
			s.recheckNetwork(ctx, err)
		}
		s.settle(f, func() { s.applyOutcome(f, job, rf, err) })
		s.release(f)
	}()
}

// recheckNetwork probes the monitor after a connectivity failure so that an
// outage the monitor has not noticed yet is not charged as a retry. It runs
// before the outcome is settled: an offline result aborts the transfer as a
// disconnect through onNetworkChange.
func (s *Scheduler) recheckNetwork(ctx context.Context, err error) {
	switch transfer.KindOf(err) {
	case transfer.KindNetwork, transfer.KindTimeout:
	default:
		return
	}
	if c, ok := s.mon.(netmon.Checker); ok {
		c.Check(ctx)
	}
}

func (s *Scheduler) onProgress(f *inflight, sent, total uint64) {
	s.mu.Lock()
	aborted := f.reason != reasonNone
	s.mu.Unlock()
	if aborted {
		return
	}
	_, _, _ = s.q.UpdateJobFrom(f.jobID, models.StatusUploading, models.JobPatch{
		Progress: models.Ptr(models.NewProgress(sent, total)),
	})
}

func (s *Scheduler) settle(f *inflight, fn func()) {
	f.settleOnce.Do(fn)
}

// release frees the slot held by f and triggers a dispatch pass.
func (s *Scheduler) release(f *inflight) {
	s.mu.Lock()
	if s.active[f.jobID] == f {
		delete(s.active, f.jobID)
	}
	if f.grace != nil {
		f.grace.Stop()
	}
	s.mu.Unlock()
	s.kick()
}

// abort cancels the running transfer of id, if any.
func (s *Scheduler) abort(id string, reason abortReason) bool {
	s.mu.Lock()
	f, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	f.reason = max(f.reason, reason)
	immediate := f.reason == reasonDisconnect && f.launched
	if f.grace == nil {
		f.grace = time.AfterFunc(s.cfg.CancelGrace, func() { s.forceSettle(f) })
	}
	s.mu.Unlock()

	f.cancel()
	if immediate {
		// back to pending right away; the slot stays taken until the
		// transfer returns
		s.settle(f, func() { s.settleAborted(f.jobID, reasonDisconnect) })
	}
	return true
}

// forceSettle settles f without waiting for its transfer, which may still
// be running; whatever it returns later is ignored.
func (s *Scheduler) forceSettle(f *inflight) {
	s.mu.Lock()
	r := f.reason
	s.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	s.log.Warn(context.Background(), "transfer ignored abort, settling without it", "job_id", f.jobID, "reason", r.String())
	s.settle(f, func() { s.settleAborted(f.jobID, r) })
	s.release(f)
}

// settleAborted moves an uploading job to where reason says it belongs.
func (s *Scheduler) settleAborted(id string, reason abortReason) {
	var patch models.JobPatch
	switch reason {
	case reasonCancel:
		patch.Status = models.Ptr(models.StatusCancelled)
	case reasonPause:
		patch = resetTo(models.StatusPaused)
	case reasonDisconnect, reasonShutdown:
		patch = resetTo(models.StatusPending)
	default:
		return
	}
	if _, _, err := s.q.UpdateJobFrom(id, models.StatusUploading, patch); err != nil && !errors.Is(err, common.ErrNotFound) {
		s.log.Error(context.Background(), "failed to settle aborted job", "job_id", id, "reason", reason.String(), "error", err)
	}
}

// resetTo moves a job back to a waiting status, dropping partial progress.
func resetTo(status models.Status) models.JobPatch {
	return models.JobPatch{
		Status:   models.Ptr(status),
		Progress: &models.Progress{},
	}
}

func (s *Scheduler) applyOutcome(f *inflight, job models.UploadJob, rf transfer.RemoteFile, err error) {
	s.mu.Lock()
	reason := f.reason
	s.mu.Unlock()

	log := s.log.With("job_id", job.ID, "file_name", job.FileName)
	ctx := context.Background()

	if err == nil {
		// a transfer that completed despite a late cancel or pause still
		// counts; the bytes are on the remote
		done, applied, uerr := s.q.UpdateJobFrom(job.ID, models.StatusUploading, models.JobPatch{
			Status:   models.Ptr(models.StatusCompleted),
			Progress: models.Ptr(models.CompletedProgress(uint64(max(rf.Size, 0)))),
			RemoteID: models.Ptr(rf.ID),
		})
		if uerr != nil || !applied {
			return
		}
		log.Info(ctx, "upload completed", "remote_id", rf.ID)
		if s.cb.OnComplete != nil {
			s.cb.OnComplete(done)
		}
		return
	}

	if reason != reasonNone {
		log.Info(ctx, "upload aborted", "reason", reason.String())
		s.settleAborted(job.ID, reason)
		return
	}

	te := transfer.Classify(err)
	switch {
	case te.Kind == transfer.KindCancelled:
		// cancelled without an abort request: the run context went away
		s.settleAborted(job.ID, reasonShutdown)
		return
	case (te.Kind == transfer.KindNetwork || te.Kind == transfer.KindTimeout) && !s.mon.Current().IsConnected:
		log.Info(ctx, "upload interrupted by network loss")
		s.settleAborted(job.ID, reasonDisconnect)
		return
	case te.Retryable() && job.RetryCount < job.MaxRetries:
		attempt := job.RetryCount + 1
		delay := Backoff(s.cfg.BackoffBase, s.cfg.BackoffCap, attempt)
		patch := resetTo(models.StatusPending)
		patch.RetryCount = models.Ptr(attempt)
		patch.NextAttemptAt = models.Ptr(s.now().Add(delay))
		if _, applied, uerr := s.q.UpdateJobFrom(job.ID, models.StatusUploading, patch); uerr == nil && applied {
			log.Warn(ctx, "upload failed, will retry", "error", err, "retry", attempt, "max_retries", job.MaxRetries, "backoff", delay)
			s.wakeAfter(delay)
		}
		return
	}

	failed, applied, uerr := s.q.UpdateJobFrom(job.ID, models.StatusUploading, models.JobPatch{
		Status:    models.Ptr(models.StatusFailed),
		LastError: models.Ptr(te.Error()),
	})
	if uerr != nil || !applied {
		return
	}
	log.Error(ctx, "upload failed", "error", err, "retries", job.RetryCount)
	if s.cb.OnError != nil {
		s.cb.OnError(failed, te)
	}
}

// Backoff is the delay before retry number attempt (1-based): base doubled
// per attempt, never above limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := retry.WithCappedDuration(limit, retry.NewExponential(base))
	var d time.Duration
	for range attempt {
		d, _ = b.Next()
	}
	return d
}

// Pause parks a pending or uploading job. Pausing a paused job is a no-op.
func (s *Scheduler) Pause(id string) error {
	j, err := s.q.GetJob(id)
	if err != nil {
		return err
	}
	switch j.Status {
	case models.StatusPaused:
		return nil
	case models.StatusPending:
		_, applied, err := s.q.UpdateJobFrom(id, models.StatusPending, models.JobPatch{
			Status:        models.Ptr(models.StatusPaused),
			NextAttemptAt: models.Ptr(time.Time{}),
		})
		if err != nil || applied {
			return err
		}
		// dispatched meanwhile
		return s.Pause(id)
	case models.StatusUploading:
		if !s.abort(id, reasonPause) {
			_, _, err = s.q.UpdateJobFrom(id, models.StatusUploading, resetTo(models.StatusPaused))
		}
		return err
	}
	return invalid(j, models.StatusPaused)
}

// Resume sends a paused job back to the queue. A failed job is retried.
func (s *Scheduler) Resume(id string) error {
	j, err := s.q.GetJob(id)
	if err != nil {
		return err
	}
	switch j.Status {
	case models.StatusPending, models.StatusUploading:
		return nil
	case models.StatusPaused:
		_, _, err = s.q.UpdateJobFrom(id, models.StatusPaused, models.JobPatch{Status: models.Ptr(models.StatusPending)})
		return err
	case models.StatusFailed:
		return s.Retry(id)
	}
	return invalid(j, models.StatusPending)
}

// Retry requeues a failed job with a fresh retry budget.
func (s *Scheduler) Retry(id string) error {
	j, err := s.q.GetJob(id)
	if err != nil {
		return err
	}
	if j.Status != models.StatusFailed {
		return invalid(j, models.StatusPending)
	}
	patch := resetTo(models.StatusPending)
	patch.RetryCount = models.Ptr(0)
	patch.NextAttemptAt = models.Ptr(time.Time{})
	_, _, err = s.q.UpdateJobFrom(id, models.StatusFailed, patch)
	return err
}

// Cancel stops a job for good. Queued jobs are cancelled at once; a running
// transfer is aborted and its job cancelled when it returns or after the
// grace period.
func (s *Scheduler) Cancel(id string) error {
	j, err := s.q.GetJob(id)
	if err != nil {
		return err
	}
	switch j.Status {
	case models.StatusCancelled:
		return nil
	case models.StatusPending, models.StatusPaused, models.StatusFailed:
		_, applied, err := s.q.UpdateJobFrom(id, j.Status, models.JobPatch{Status: models.Ptr(models.StatusCancelled)})
		if err != nil || applied {
			return err
		}
		return s.Cancel(id)
	case models.StatusUploading:
		if !s.abort(id, reasonCancel) {
			_, _, err = s.q.UpdateJobFrom(id, models.StatusUploading, models.JobPatch{Status: models.Ptr(models.StatusCancelled)})
		}
		return err
	}
	return invalid(j, models.StatusCancelled)
}

// ClearCompleted drops completed jobs from the queue.
func (s *Scheduler) ClearCompleted() []models.UploadJob {
	return s.q.ClearCompleted()
}

// ClearAll empties the queue. Running transfers of removed jobs are
// aborted through the queue change.
func (s *Scheduler) ClearAll() []models.UploadJob {
	return s.q.ClearAll()
}

func invalid(j models.UploadJob, to models.Status) error {
	return fmt.Errorf("job %s %s -> %s: %w", j.ID, j.Status, to, common.ErrInvalidTransition)
}
