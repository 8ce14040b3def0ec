package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/queue"
)

// upload queues paths and runs the scheduler until nothing is left to do.
// Jobs restored from an earlier run are picked up as well.
func (a *App) upload(ctx context.Context, paths []string) error {
	specs, err := specsFromPaths(paths, a.config.ParentID)
	if err != nil {
		return err
	}
	if len(specs) > 0 {
		if _, err := a.manager.Enqueue(specs); err != nil {
			return err
		}
	}

	s := a.manager.GetStats()
	if s.Pending+s.Uploading == 0 {
		if len(paths) == 0 && s.Total == 0 {
			return errUsage
		}
		return nil
	}
	return a.runUntilDrained(ctx)
}

func (a *App) runUntilDrained(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := a.showProgress()
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	if a.poller != nil {
		g.Go(func() error { return a.poller.Run(gctx) })
	}
	if err := a.manager.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	g.Go(func() error {
		defer cancel()
		return a.waitActive(gctx)
	})

	err := g.Wait()
	a.manager.Stop()
	return err
}

// waitActive waits for the queue to drain. Paused jobs do not hold the run
// open: only pending and uploading work does.
func (a *App) waitActive(ctx context.Context) error {
	done := make(chan struct{}, 1)
	unsub := a.manager.Subscribe(func(c queue.Change) {
		if c.Snapshot.Pending+c.Snapshot.Uploading == 0 {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if s := a.manager.GetStats(); s.Pending+s.Uploading == 0 {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// specsFromPaths turns local file paths into job specs. Directories and
// missing files are rejected before anything is queued.
func specsFromPaths(paths []string, parentID string) ([]models.JobSpec, error) {
	specs := make([]models.JobSpec, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("error resolving %s: %w", p, err)
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", p, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		specs = append(specs, models.JobSpec{
			SourceRef:           abs,
			FileName:            fi.Name(),
			DeclaredSize:        fi.Size(),
			DestinationParentID: parentID,
		})
	}
	return specs, nil
}
