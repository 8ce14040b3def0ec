package transfer

import (
	"context"
	"io"
	"os"
)

// Source is an opened payload.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Opener resolves a job's SourceRef.
type Opener interface {
	Open(ctx context.Context, ref string) (Source, error)
}

// FileOpener treats SourceRef as a local file path.
type FileOpener struct{}

func (FileOpener) Open(_ context.Context, ref string) (Source, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileSource{File: f, size: st.Size()}, nil
}

type fileSource struct {
	*os.File
	size int64
}

func (s *fileSource) Size() int64 { return s.size }

// countingReader reports the running number of bytes read.
type countingReader struct {
	r    io.Reader
	n    uint64
	tick func(n uint64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += uint64(n)
		if c.tick != nil {
			c.tick(c.n)
		}
	}
	return n, err
}
