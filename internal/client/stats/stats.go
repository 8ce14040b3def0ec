// Package stats derives queue summaries from job lists.
package stats

import "github.com/dmitrijs2005/gophupload/internal/client/models"

// Compute counts jobs per status and averages their percentages. It is
// recomputed from scratch on every call.
func Compute(jobs []models.UploadJob) models.Snapshot {
	var s models.Snapshot
	var sum int

	for _, j := range jobs {
		s.Total++
		sum += j.Progress.Percentage

		switch j.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusUploading:
			s.Uploading++
		case models.StatusPaused:
			s.Paused++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusFailed:
			s.Failed++
		case models.StatusCancelled:
			s.Cancelled++
		}
	}

	if s.Total > 0 {
		s.TotalProgress = float64(sum) / float64(s.Total)
	}
	return s
}
