// Package transfer moves the bytes of one upload job to the remote, either
// as a single request or as sequential chunks, and reports progress.
//
// Two clients are provided: HTTPClient speaks the file-uploader HTTP API
// and S3Client uploads to an S3 bucket. Both honour context cancellation
// and return *Error values describing why an attempt failed.
package transfer

import (
	"context"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
)

const (
	DefaultChunkThreshold int64 = 5 << 20
	DefaultChunkSize      int64 = 1 << 20
)

// RemoteFile describes what the remote stored.
type RemoteFile struct {
	ID       string
	UploadID string
	Size     int64
}

// ProgressFunc receives cumulative bytes sent out of total.
type ProgressFunc func(sent, total uint64)

// Client uploads one job. Cancelling ctx aborts the transfer, which then
// returns a KindCancelled error.
type Client interface {
	Transfer(ctx context.Context, job models.UploadJob, onProgress ProgressFunc) (RemoteFile, error)
}

// Policy decides between single and chunked uploads.
type Policy struct {
	ChunkThreshold int64
	ChunkSize      int64
}

func DefaultPolicy() Policy {
	return Policy{ChunkThreshold: DefaultChunkThreshold, ChunkSize: DefaultChunkSize}
}

func (p Policy) withDefaults() Policy {
	if p.ChunkThreshold <= 0 {
		p.ChunkThreshold = DefaultChunkThreshold
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	return p
}

// Chunked reports whether a payload of size bytes is split into chunks.
func (p Policy) Chunked(size int64) bool {
	return size > p.withDefaults().ChunkThreshold
}

// Chunks returns how many chunks of chunkSize cover size bytes.
func Chunks(size, chunkSize int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

type progressTracker struct {
	fn    ProgressFunc
	total uint64
	acked uint64
}

func (t *progressTracker) partial(n uint64) {
	if t.fn != nil {
		t.fn(min(t.acked+n, t.total), t.total)
	}
}

func (t *progressTracker) ack(n uint64) {
	t.acked += n
	t.partial(0)
}
