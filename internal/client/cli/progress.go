package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/queue"
)

var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type display interface {
	update(c queue.Change, jobs []models.UploadJob)
	finish()
}

// showProgress renders queue changes until the returned stop is called.
func (a *App) showProgress() (stop func()) {
	var d display = &lineDisplay{w: a.out}
	if isTerminal(a.out) {
		d = newBarDisplay(a.out)
	}

	unsub := a.manager.Subscribe(func(c queue.Change) {
		d.update(c, a.manager.Jobs())
	})
	jobs := a.manager.Jobs()
	queued := make([]models.UploadJob, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == models.StatusPending {
			queued = append(queued, j)
		}
	}
	d.update(queue.Change{Kind: queue.JobsAdded, Jobs: queued, Snapshot: a.manager.GetStats()}, jobs)

	return func() {
		unsub()
		d.finish()
	}
}

// barDisplay draws one bar over the bytes of every job that is not
// cancelled. The bar is created once the total is known.
type barDisplay struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newBarDisplay(w io.Writer) *barDisplay {
	return &barDisplay{w: w}
}

func (d *barDisplay) update(c queue.Change, jobs []models.UploadJob) {
	var sent, total int64
	for _, j := range jobs {
		if j.Status == models.StatusCancelled {
			continue
		}
		total += max(j.DeclaredSize, int64(j.Progress.BytesTotal))
		sent += int64(j.Progress.BytesSent)
	}
	if total <= 0 {
		return
	}
	switch {
	case d.bar == nil:
		d.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(d.w),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription("Uploading..."),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	case d.bar.GetMax64() != total:
		d.bar.ChangeMax64(total)
	}
	_ = d.bar.Set64(sent)

	s := c.Snapshot
	d.bar.Describe(fmt.Sprintf("%d/%d files", s.Completed, s.Total-s.Cancelled))
}

func (d *barDisplay) finish() {
	if d.bar != nil {
		_ = d.bar.Finish()
	}
}

// lineDisplay prints one line per status change, for logs and pipes.
type lineDisplay struct {
	w io.Writer
}

func (d *lineDisplay) update(c queue.Change, _ []models.UploadJob) {
	switch c.Kind {
	case queue.JobsAdded:
		for _, j := range c.Jobs {
			printfFn(d.w, "queued    %s (%s)\n", j.FileName, formatBytes(j.DeclaredSize))
		}
	case queue.JobUpdated:
		if c.ProgressOnly || len(c.Jobs) == 0 || c.Jobs[0].Status == c.PreviousStatus {
			return
		}
		j := c.Jobs[0]
		switch j.Status {
		case models.StatusFailed:
			printfFn(d.w, "%-9s %s: %s\n", j.Status, j.FileName, j.LastError)
		case models.StatusPending:
			if j.RetryCount > 0 && c.PreviousStatus == models.StatusUploading {
				printfFn(d.w, "retrying  %s (attempt %d of %d)\n", j.FileName, j.RetryCount+1, j.MaxRetries+1)
			}
		default:
			printfFn(d.w, "%-9s %s\n", j.Status, j.FileName)
		}
	}
}

func (d *lineDisplay) finish() {}
