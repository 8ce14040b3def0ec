package models

// Snapshot is a derived summary of the queue. It is never stored.
type Snapshot struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// TotalProgress is the mean of all job percentages, 0 for an empty queue.
	TotalProgress float64 `json:"total_progress"`
}

// Drained reports whether nothing is left to upload or waiting on the user.
func (s Snapshot) Drained() bool {
	return s.Pending == 0 && s.Uploading == 0 && s.Paused == 0
}
