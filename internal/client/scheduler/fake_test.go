package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/netmon"
	"github.com/dmitrijs2005/gophupload/internal/client/queue"
	"github.com/dmitrijs2005/gophupload/internal/client/transfer"
)

const waitFor = 2 * time.Second

type result struct {
	rf  transfer.RemoteFile
	err error
}

// call is one Transfer invocation held open until the test resolves it.
type call struct {
	job      models.UploadJob
	ctx      context.Context
	progress transfer.ProgressFunc
	result   chan result
}

func (c *call) succeed() {
	c.result <- result{rf: transfer.RemoteFile{ID: "remote-" + c.job.ID, Size: c.job.DeclaredSize}}
}

func (c *call) fail(err error) { c.result <- result{err: err} }

type fakeClient struct {
	calls chan *call

	// ignoreCancel keeps a transfer running after its context is done.
	ignoreCancel atomic.Bool
	// auto resolves every call after delay with the error it returns.
	auto  func(job models.UploadJob) error
	delay time.Duration

	running    atomic.Int32
	maxRunning atomic.Int32
	total      atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(chan *call, 128)}
}

func (f *fakeClient) Transfer(ctx context.Context, job models.UploadJob, onProgress transfer.ProgressFunc) (transfer.RemoteFile, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	f.total.Add(1)
	for {
		m := f.maxRunning.Load()
		if n <= m || f.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	if f.auto != nil {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return transfer.RemoteFile{}, transfer.Cancelled(ctx.Err())
		}
		if err := f.auto(job); err != nil {
			return transfer.RemoteFile{}, err
		}
		onProgress(uint64(job.DeclaredSize), uint64(job.DeclaredSize))
		return transfer.RemoteFile{ID: "remote-" + job.ID, Size: job.DeclaredSize}, nil
	}

	c := &call{job: job, ctx: ctx, progress: onProgress, result: make(chan result, 1)}
	f.calls <- c

	if f.ignoreCancel.Load() {
		r := <-c.result
		return r.rf, r.err
	}
	select {
	case r := <-c.result:
		return r.rf, r.err
	case <-ctx.Done():
		return transfer.RemoteFile{}, transfer.Cancelled(ctx.Err())
	}
}

func (f *fakeClient) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(waitFor):
		t.Fatal("no transfer started")
		return nil
	}
}

func (f *fakeClient) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected transfer of %s", c.job.FileName)
	case <-time.After(d):
	}
}

type harness struct {
	q      *queue.Queue
	mon    *netmon.Manual
	client *fakeClient
	s      *Scheduler

	mu        sync.Mutex
	completed []models.UploadJob
	errored   []models.UploadJob
}

func newHarness(t *testing.T, cfg Config, maxRetries int) *harness {
	t.Helper()
	q, err := queue.New(context.Background(), nil, queue.Options{MaxRetries: maxRetries})
	require.NoError(t, err)

	h := &harness{q: q, mon: netmon.NewManual(models.Online()), client: newFakeClient()}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 5 * time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 20 * time.Millisecond
	}
	if cfg.CancelGrace == 0 {
		cfg.CancelGrace = time.Second
	}
	h.s = New(q, h.mon, h.client, Options{
		Config: cfg,
		Callbacks: Callbacks{
			OnComplete: func(j models.UploadJob) {
				h.mu.Lock()
				h.completed = append(h.completed, j)
				h.mu.Unlock()
			},
			OnError: func(j models.UploadJob, _ error) {
				h.mu.Lock()
				h.errored = append(h.errored, j)
				h.mu.Unlock()
			},
		},
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(context.Background()))
	t.Cleanup(h.s.Stop)
}

func (h *harness) enqueue(t *testing.T, sizes ...int64) []models.UploadJob {
	t.Helper()
	specs := make([]models.JobSpec, len(sizes))
	for i, sz := range sizes {
		specs[i] = models.JobSpec{SourceRef: "mem://" + string(rune('a'+i)), FileName: string(rune('a'+i)) + ".bin", DeclaredSize: sz}
	}
	jobs, err := h.q.AddJobs(specs)
	require.NoError(t, err)
	return jobs
}

func (h *harness) waitStatus(t *testing.T, id string, want models.Status) models.UploadJob {
	t.Helper()
	var last models.UploadJob
	require.Eventually(t, func() bool {
		j, err := h.q.GetJob(id)
		last = j
		return err == nil && j.Status == want
	}, waitFor, time.Millisecond, "job %s never reached %s (last %s)", id, want, last.Status)
	return last
}

func (h *harness) callbacks() (completed, errored int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.completed), len(h.errored)
}

var errNetwork = &transfer.Error{Kind: transfer.KindNetwork, Err: errors.New("connection reset by peer")}

// activeTransfers returns the number of occupied concurrency slots.
func (s *Scheduler) activeTransfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
