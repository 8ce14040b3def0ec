package transfer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/common"
)

type receivedChunk struct {
	index    int
	data     []byte
	checksum string
}

type fakeUploader struct {
	mu          sync.Mutex
	auth        []string
	single      []byte
	parentID    string
	initialized initializeRequest
	chunks      []receivedChunk
	cancelled   []string
	progressHit bool

	fileStatus  int
	chunkStatus int
	// blockChunk makes the handler for that chunk index wait for the client
	// to give up.
	blockChunk int
	chunkSeen  chan int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{blockChunk: -1, chunkSeen: make(chan int, 64)}
}

func writeEnvelope(w http.ResponseWriter, status int, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": errMsg == ""}
	if data != nil {
		body["data"] = data
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeUploader) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/file-uploader/file", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.fileStatus != 0 {
			writeEnvelope(w, f.fileStatus, nil, "File too large")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, nil, "No file uploaded")
			return
		}
		b, _ := io.ReadAll(file)
		f.mu.Lock()
		f.single = b
		f.parentID = r.FormValue("parentId")
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"uploadId": "u-1", "fileId": "file-42", "progress": 100}, "")
	})

	mux.HandleFunc("POST /api/file-uploader/initialize", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req initializeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, nil, "bad json")
			return
		}
		f.mu.Lock()
		f.initialized = req
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"uploadId": "sess-1", "message": "Upload initialized successfully"}, "")
	})

	mux.HandleFunc("POST /api/file-uploader/chunk", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		idx, _ := strconv.Atoi(r.FormValue("chunkIndex"))
		f.chunkSeen <- idx
		if idx == f.blockChunk {
			<-r.Context().Done()
			return
		}
		if f.chunkStatus != 0 {
			writeEnvelope(w, f.chunkStatus, nil, "storage unavailable")
			return
		}
		file, _, err := r.FormFile("chunk")
		if err != nil || r.FormValue("uploadId") != "sess-1" {
			writeEnvelope(w, http.StatusBadRequest, nil, "bad chunk")
			return
		}
		b, _ := io.ReadAll(file)
		f.mu.Lock()
		f.chunks = append(f.chunks, receivedChunk{index: idx, data: b, checksum: r.Header.Get(common.ChunkChecksumHeaderName)})
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"chunkIndex": idx}, "")
	})

	mux.HandleFunc("GET /api/file-uploader/progress/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.progressHit = true
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"uploadId": r.PathValue("id"), "status": "completed", "progress": 100}, "")
	})

	mux.HandleFunc("DELETE /api/file-uploader/cancel/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.cancelled = append(f.cancelled, r.PathValue("id"))
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"message": "cancelled"}, "")
	})

	return mux
}

func (f *fakeUploader) record(r *http.Request) {
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get(common.AuthorizationHeaderName))
	f.mu.Unlock()
}

func writeTempFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	p := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p, data
}

func newTestHTTPClient(ts *httptest.Server, policy Policy) *HTTPClient {
	return NewHTTPClient(HTTPConfig{
		BaseURL:        ts.URL + "/api/file-uploader/",
		HTTPClient:     ts.Client(),
		Tokens:         StaticToken("tok"),
		Policy:         policy,
		RequestTimeout: 2 * time.Second,
	})
}

type progressLog struct {
	mu   sync.Mutex
	sent []uint64
}

func (p *progressLog) fn(sent, total uint64) {
	p.mu.Lock()
	p.sent = append(p.sent, sent)
	p.mu.Unlock()
}

func (p *progressLog) values() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.sent...)
}

func assertMonotonic(t *testing.T, vals []uint64) {
	t.Helper()
	for i := 1; i < len(vals); i++ {
		require.GreaterOrEqual(t, vals[i], vals[i-1], "progress went backwards at %d: %v", i, vals)
	}
}

func TestHTTPClient_SingleRequestForSmallFiles(t *testing.T) {
	f := newFakeUploader()
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	path, data := writeTempFile(t, 1000)
	var pl progressLog

	rf, err := newTestHTTPClient(ts, Policy{}).Transfer(context.Background(), models.UploadJob{
		ID: "j1", SourceRef: path, FileName: "report.pdf", DestinationParentID: "folder-7",
	}, pl.fn)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, RemoteFile{ID: "file-42", UploadID: "u-1", Size: 1000}, rf)
	assert.Equal(t, data, f.single)
	assert.Equal(t, "folder-7", f.parentID)
	assert.Equal(t, []string{"Bearer tok"}, f.auth)

	vals := pl.values()
	require.NotEmpty(t, vals)
	assertMonotonic(t, vals)
	assert.Equal(t, uint64(1000), vals[len(vals)-1])
}

func TestHTTPClient_ChunkedUploadIsSequentialWithChecksums(t *testing.T) {
	f := newFakeUploader()
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	path, data := writeTempFile(t, 10)
	var pl progressLog

	rf, err := newTestHTTPClient(ts, Policy{ChunkThreshold: 8, ChunkSize: 4}).Transfer(context.Background(), models.UploadJob{
		ID: "j2", SourceRef: path, FileName: "big.iso",
	}, pl.fn)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rf.ID)
	assert.Equal(t, int64(10), rf.Size)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, initializeRequest{FileName: "big.iso", FileSize: 10, TotalChunks: 3}, f.initialized)
	require.Len(t, f.chunks, 3)
	var joined []byte
	for i, c := range f.chunks {
		assert.Equal(t, i, c.index)
		sum := blake2b.Sum256(c.data)
		assert.Equal(t, hex.EncodeToString(sum[:]), c.checksum)
		joined = append(joined, c.data...)
	}
	assert.Equal(t, data, joined)
	assert.True(t, f.progressHit)
	assert.Empty(t, f.cancelled)

	vals := pl.values()
	assertMonotonic(t, vals)
	assert.Contains(t, vals, uint64(4))
	assert.Contains(t, vals, uint64(8))
	assert.Equal(t, uint64(10), vals[len(vals)-1])
}

func TestHTTPClient_ClientErrorIsNotRetryable(t *testing.T) {
	f := newFakeUploader()
	f.fileStatus = http.StatusRequestEntityTooLarge
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	path, _ := writeTempFile(t, 10)
	_, err := newTestHTTPClient(ts, Policy{}).Transfer(context.Background(), models.UploadJob{SourceRef: path, FileName: "x"}, nil)

	te := Classify(err)
	assert.Equal(t, KindServerRejected, te.Kind)
	assert.Equal(t, http.StatusRequestEntityTooLarge, te.Status)
	assert.Equal(t, "File too large", te.Message)
	assert.False(t, te.Retryable())
}

func TestHTTPClient_ServerErrorOnChunkIsRetryable(t *testing.T) {
	f := newFakeUploader()
	f.chunkStatus = http.StatusServiceUnavailable
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	path, _ := writeTempFile(t, 10)
	_, err := newTestHTTPClient(ts, Policy{ChunkThreshold: 8, ChunkSize: 4}).Transfer(context.Background(), models.UploadJob{SourceRef: path, FileName: "x"}, nil)

	te := Classify(err)
	assert.Equal(t, KindServerRejected, te.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
	assert.True(t, te.Retryable())
	f.mu.Lock()
	defer f.mu.Unlock()
	// not cancelled by the caller, so the session is left for the server to expire
	assert.Empty(t, f.cancelled)
}

func TestHTTPClient_CancelAbortsAndDropsSession(t *testing.T) {
	f := newFakeUploader()
	f.blockChunk = 1
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	path, _ := writeTempFile(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for idx := range f.chunkSeen {
			if idx == 1 {
				cancel()
				return
			}
		}
	}()

	_, err := newTestHTTPClient(ts, Policy{ChunkThreshold: 8, ChunkSize: 4}).Transfer(ctx, models.UploadJob{SourceRef: path, FileName: "x"}, nil)
	assert.Equal(t, KindCancelled, KindOf(err))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"sess-1"}, f.cancelled)
	assert.Len(t, f.chunks, 1)
}

func TestHTTPClient_RequestTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	path, _ := writeTempFile(t, 10)
	c := NewHTTPClient(HTTPConfig{BaseURL: ts.URL, HTTPClient: ts.Client(), RequestTimeout: 50 * time.Millisecond})

	_, err := c.Transfer(context.Background(), models.UploadJob{SourceRef: path, FileName: "x"}, nil)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, Classify(err).Retryable())
}

func TestHTTPClient_MissingSource(t *testing.T) {
	c := NewHTTPClient(HTTPConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Transfer(context.Background(), models.UploadJob{SourceRef: filepath.Join(t.TempDir(), "nope"), FileName: "x"}, nil)
	assert.Equal(t, KindSource, KindOf(err))
	assert.False(t, Classify(err).Retryable())
}

func TestHTTPClient_ExpiredTokenSendsNothing(t *testing.T) {
	f := newFakeUploader()
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	path, _ := writeTempFile(t, 10)
	c := NewHTTPClient(HTTPConfig{BaseURL: ts.URL + "/api/file-uploader", HTTPClient: ts.Client(), Tokens: failingTokens{}})

	_, err := c.Transfer(context.Background(), models.UploadJob{SourceRef: path, FileName: "x"}, nil)
	te := Classify(err)
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.auth)
}

func TestHTTPClient_UnreachableServerIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	path, _ := writeTempFile(t, 10)
	c := NewHTTPClient(HTTPConfig{BaseURL: base, RequestTimeout: time.Second})
	_, err := c.Transfer(context.Background(), models.UploadJob{SourceRef: path, FileName: "x"}, nil)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestHTTPClient_EnvelopeErrorOn200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "Failed to upload file")
	}))
	defer ts.Close()

	path, _ := writeTempFile(t, 10)
	c := NewHTTPClient(HTTPConfig{BaseURL: ts.URL, HTTPClient: ts.Client()})
	_, err := c.Transfer(context.Background(), models.UploadJob{SourceRef: path, FileName: "x"}, nil)

	te := Classify(err)
	assert.Equal(t, KindServerRejected, te.Kind)
	assert.Equal(t, "Failed to upload file", te.Message)
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Chunked(5<<20))
	assert.True(t, p.Chunked(5<<20+1))
	assert.True(t, Policy{}.Chunked(6<<20))

	assert.Equal(t, 0, Chunks(0, 4))
	assert.Equal(t, 1, Chunks(4, 4))
	assert.Equal(t, 3, Chunks(9, 4))
}
