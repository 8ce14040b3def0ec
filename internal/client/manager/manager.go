// Package manager is the entry point for callers of the upload subsystem.
// It owns the queue and the scheduler and exposes the operations a UI or
// CLI needs: enqueue, inspect, control and wait.
package manager

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/netmon"
	"github.com/dmitrijs2005/gophupload/internal/client/queue"
	"github.com/dmitrijs2005/gophupload/internal/client/scheduler"
	"github.com/dmitrijs2005/gophupload/internal/client/transfer"
	"github.com/dmitrijs2005/gophupload/internal/logging"
)

// Deps are the collaborators the manager binds together.
type Deps struct {
	// Persister stores the job list. Nil keeps the queue in memory.
	Persister queue.Persister
	Monitor   netmon.Monitor
	Client    transfer.Client
}

type Options struct {
	// MaxRetries is stamped on new jobs. Zero never retries.
	MaxRetries int
	Scheduler  scheduler.Config
	Callbacks  scheduler.Callbacks
	Logger     logging.Logger
	Clock      func() time.Time
}

type Manager struct {
	q     *queue.Queue
	mon   netmon.Monitor
	sched *scheduler.Scheduler
	log   logging.Logger
}

// New restores the persisted queue and prepares the scheduler. Nothing is
// uploaded until Start.
func New(ctx context.Context, d Deps, opts Options) (*Manager, error) {
	if d.Monitor == nil || d.Client == nil {
		return nil, errors.New("manager: monitor and transfer client are required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	q, err := queue.New(ctx, d.Persister, queue.Options{
		MaxRetries: opts.MaxRetries,
		Logger:     log,
		Clock:      opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	s := scheduler.New(q, d.Monitor, d.Client, scheduler.Options{
		Config:    opts.Scheduler,
		Callbacks: opts.Callbacks,
		Logger:    log,
		Clock:     opts.Clock,
	})

	return &Manager{q: q, mon: d.Monitor, sched: s, log: log.With("component", "manager")}, nil
}

// Start begins dispatching jobs.
func (m *Manager) Start(ctx context.Context) error {
	return m.sched.Start(ctx)
}

// Stop aborts running transfers, leaving their jobs pending for the next
// run.
func (m *Manager) Stop() {
	m.sched.Stop()
}

// Enqueue adds one pending job per file, in order, and returns their ids.
// Either all files are queued or none are.
func (m *Manager) Enqueue(files []models.JobSpec) ([]string, error) {
	jobs, err := m.q.AddJobs(files)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	m.log.Info(context.Background(), "files enqueued", "count", len(ids))
	return ids, nil
}

func (m *Manager) GetStats() models.Snapshot {
	return m.q.Snapshot()
}

func (m *Manager) Jobs() []models.UploadJob {
	return m.q.Jobs()
}

func (m *Manager) Job(id string) (models.UploadJob, error) {
	return m.q.GetJob(id)
}

// Subscribe registers fn for every queue change. Each change carries the
// snapshot taken right after it.
func (m *Manager) Subscribe(fn queue.Listener) (unsubscribe func()) {
	return m.q.Subscribe(fn)
}

func (m *Manager) Pause(id string) error { return m.sched.Pause(id) }
func (m *Manager) Resume(id string) error { return m.sched.Resume(id) }
func (m *Manager) Cancel(id string) error { return m.sched.Cancel(id) }
func (m *Manager) Retry(id string) error { return m.sched.Retry(id) }

// RetryFailed retries every failed job and returns how many were requeued.
func (m *Manager) RetryFailed() (int, error) {
	n := 0
	for _, j := range m.q.Jobs() {
		if j.Status != models.StatusFailed {
			continue
		}
		if err := m.sched.Retry(j.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Remove drops a job from the queue, aborting its transfer if one runs.
func (m *Manager) Remove(id string) error {
	return m.q.RemoveJob(id)
}

// ClearCompleted removes completed jobs and returns how many there were.
func (m *Manager) ClearCompleted() int {
	return len(m.sched.ClearCompleted())
}

// ClearAll empties the queue. Running transfers are aborted and whatever
// they report afterwards is ignored.
func (m *Manager) ClearAll() int {
	return len(m.sched.ClearAll())
}

func (m *Manager) GetNetworkStatus() models.NetworkStatus {
	return m.mon.Current()
}

// Wait blocks until no job is pending, uploading or paused, or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	drained := make(chan struct{}, 1)
	unsub := m.q.Subscribe(func(c queue.Change) {
		if c.Snapshot.Drained() {
			select {
			case drained <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if m.q.Snapshot().Drained() {
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
