package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
)

func formatBytes(n int64) string {
	return humanize.IBytes(uint64(max(n, 0)))
}

func formatNetwork(s models.NetworkStatus) string {
	if !s.IsConnected {
		return "offline"
	}
	return fmt.Sprintf("online (internet %s)", s.IsInternetReachable)
}

// status prints the queue summary followed by one row per job.
func (a *App) status() {
	printSnapshot(a.out, a.manager.GetStats(), a.manager.GetNetworkStatus())
	printJobs(a.out, a.manager.Jobs())
}

// reset forgets every job and the stored token.
func (a *App) reset(ctx context.Context) error {
	n := a.manager.ClearAll()
	if err := a.repo.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear local state: %w", err)
	}
	printfFn(a.out, "removed %d job(s) and the stored token\n", n)
	return nil
}

func printSnapshot(w io.Writer, s models.Snapshot, net models.NetworkStatus) {
	printfFn(w, "network:   %s\n", formatNetwork(net))
	printfFn(w, "jobs:      %d total, %d pending, %d uploading, %d paused, %d completed, %d failed, %d cancelled\n",
		s.Total, s.Pending, s.Uploading, s.Paused, s.Completed, s.Failed, s.Cancelled)
	printfFn(w, "progress:  %.1f%%\n", s.TotalProgress)
}

func printJobs(w io.Writer, jobs []models.UploadJob) {
	if len(jobs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printfFn(tw, "\nID\tFILE\tSIZE\tSTATUS\tPROGRESS\tRETRIES\tERROR\n")
	for _, j := range jobs {
		printfFn(tw, "%s\t%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
			j.ID, j.FileName, formatBytes(j.DeclaredSize), j.Status, j.Progress.Percentage,
			j.RetryCount, j.MaxRetries, j.LastError)
	}
	_ = tw.Flush()
}
