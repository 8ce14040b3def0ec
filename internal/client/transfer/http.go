package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/logging"
)

const (
	DefaultRequestTimeout = 60 * time.Second

	// maxResponseBody bounds decoded API responses.
	maxResponseBody = 1 << 20

	cancelTimeout = 5 * time.Second
)

type HTTPConfig struct {
	// BaseURL is the file-uploader API root, e.g. https://host/api/file-uploader.
	BaseURL        string
	HTTPClient     *http.Client
	Tokens         TokenProvider
	Opener         Opener
	Policy         Policy
	RequestTimeout time.Duration
	Logger         logging.Logger
}

// HTTPClient implements Client against the file-uploader HTTP API. Small
// files go to POST /file in one multipart request. Larger files open a
// session with POST /initialize, send chunks in order to POST /chunk and
// finish with GET /progress/{uploadId}.
type HTTPClient struct {
	base    string
	hc      *http.Client
	tokens  TokenProvider
	opener  Opener
	policy  Policy
	timeout time.Duration
	log     logging.Logger
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	c := &HTTPClient{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		hc:      cfg.HTTPClient,
		tokens:  cfg.Tokens,
		opener:  cfg.Opener,
		policy:  cfg.Policy.withDefaults(),
		timeout: cfg.RequestTimeout,
		log:     cfg.Logger,
	}
	if c.hc == nil {
		c.hc = &http.Client{}
	}
	if c.opener == nil {
		c.opener = FileOpener{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	c.log = c.log.With("component", "transfer", "backend", "http")
	return c
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

type initializeRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ParentID    string `json:"parentId,omitempty"`
	TotalChunks int    `json:"totalChunks"`
}

type initializeResponse struct {
	UploadID string `json:"uploadId"`
}

type fileResponse struct {
	UploadID string `json:"uploadId"`
	FileID   string `json:"fileId"`
}

type progressResponse struct {
	UploadID     string `json:"uploadId"`
	FileID       string `json:"fileId,omitempty"`
	UploadedSize int64  `json:"uploadedSize"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

func (c *HTTPClient) Transfer(ctx context.Context, job models.UploadJob, onProgress ProgressFunc) (RemoteFile, error) {
	src, err := c.opener.Open(ctx, job.SourceRef)
	if err != nil {
		return RemoteFile{}, SourceError(err)
	}
	defer src.Close()

	size := src.Size()
	tr := &progressTracker{fn: onProgress, total: uint64(size)}

	var rf RemoteFile
	if c.policy.Chunked(size) {
		rf, err = c.uploadChunked(ctx, job, src, tr)
	} else {
		rf, err = c.uploadSingle(ctx, job, src, tr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return RemoteFile{}, Cancelled(ctx.Err())
		}
		return RemoteFile{}, Classify(err)
	}
	rf.Size = size
	return rf, nil
}

func (c *HTTPClient) uploadSingle(ctx context.Context, job models.UploadJob, src Source, tr *progressTracker) (RemoteFile, error) {
	fields := map[string]string{}
	if job.DestinationParentID != "" {
		fields["parentId"] = job.DestinationParentID
	}
	body := io.NewSectionReader(src, 0, src.Size())

	var out fileResponse
	if err := c.postMultipart(ctx, "/file", fields, "file", job.FileName, body, nil, tr.partial, &out); err != nil {
		return RemoteFile{}, err
	}
	tr.ack(uint64(src.Size()))

	id := out.FileID
	if id == "" {
		id = out.UploadID
	}
	return RemoteFile{ID: id, UploadID: out.UploadID}, nil
}

func (c *HTTPClient) uploadChunked(ctx context.Context, job models.UploadJob, src Source, tr *progressTracker) (RemoteFile, error) {
	size := src.Size()
	chunkSize := c.policy.ChunkSize
	total := Chunks(size, chunkSize)

	var session initializeResponse
	err := c.postJSON(ctx, "/initialize", initializeRequest{
		FileName:    job.FileName,
		FileSize:    size,
		ParentID:    job.DestinationParentID,
		TotalChunks: total,
	}, &session)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("initialize: %w", err)
	}
	if session.UploadID == "" {
		return RemoteFile{}, Rejected(http.StatusBadGateway, "initialize returned no upload id")
	}

	log := c.log.With("job_id", job.ID, "upload_id", session.UploadID)
	log.Debug(ctx, "chunked upload started", "chunks", total, "size", size)

	for i := range total {
		off := int64(i) * chunkSize
		n := min(chunkSize, size-off)
		// fresh buffer per chunk, the previous body may still be draining
		chunk := make([]byte, n)
		if _, err := src.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			c.cancelSession(ctx, session.UploadID)
			return RemoteFile{}, SourceError(fmt.Errorf("read chunk %d: %w", i, err))
		}

		sum := blake2b.Sum256(chunk)
		headers := map[string]string{common.ChunkChecksumHeaderName: hex.EncodeToString(sum[:])}
		fields := map[string]string{
			"uploadId":   session.UploadID,
			"chunkIndex": strconv.Itoa(i),
		}

		if err := c.postMultipart(ctx, "/chunk", fields, "chunk", job.FileName, bytes.NewReader(chunk), headers, tr.partial, nil); err != nil {
			c.cancelSession(ctx, session.UploadID)
			return RemoteFile{}, fmt.Errorf("chunk %d/%d: %w", i+1, total, err)
		}
		tr.ack(uint64(n))
	}

	var final progressResponse
	if err := c.get(ctx, "/progress/"+url.PathEscape(session.UploadID), &final); err != nil {
		return RemoteFile{}, fmt.Errorf("progress: %w", err)
	}
	if final.Status == "failed" {
		// assembly failed on the remote; a fresh attempt may succeed
		return RemoteFile{}, Rejected(http.StatusInternalServerError, final.Error)
	}

	log.Debug(ctx, "chunked upload finished", "status", final.Status)
	id := final.FileID
	if id == "" {
		id = session.UploadID
	}
	return RemoteFile{ID: id, UploadID: session.UploadID}, nil
}

// cancelSession tells the remote to drop a session after the caller gave
// up. Only done when ctx was cancelled; failures are logged.
func (c *HTTPClient) cancelSession(ctx context.Context, uploadID string) {
	if ctx.Err() == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	req, err := c.newRequest(cctx, http.MethodDelete, "/cancel/"+url.PathEscape(uploadID), nil, "")
	if err == nil {
		err = c.do(req, nil)
	}
	if err != nil {
		c.log.Warn(ctx, "failed to cancel remote upload session", "upload_id", uploadID, "error", err)
	}
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(rctx, http.MethodPost, path, bytes.NewReader(b), "application/json")
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(rctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postMultipart streams a multipart form whose file part is read from r.
// tick receives the number of file bytes handed to the transport so far.
func (c *HTTPClient) postMultipart(ctx context.Context, path string, fields map[string]string, fileField, fileName string,
	r io.Reader, headers map[string]string, tick func(uint64), out any) error {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, fileField, fileName, &countingReader{r: r, tick: tick}))
	}()
	defer pr.Close()

	req, err := c.newRequest(rctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, fileField, fileName string, r io.Reader) error {
	// identifiers go first so the server can route the file part
	for _, k := range []string{"uploadId", "chunkIndex", "parentId"} {
		if v, ok := fields[k]; ok {
			if err := mw.WriteField(k, v); err != nil {
				return err
			}
		}
	}
	part, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	tok, err := bearer(ctx, c.tokens)
	if err != nil {
		return nil, err
	}
	if tok != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+tok)
	}
	return req, nil
}

// do sends req and decodes the {data, error} envelope into out. Non-2xx
// answers and envelopes carrying an error become rejections.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return Rejected(resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return Rejected(http.StatusBadGateway, "malformed response: "+decodeErr.Error())
	}
	if env.Error != "" {
		return Rejected(http.StatusBadGateway, env.Error)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Rejected(http.StatusBadGateway, "response carries no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return Rejected(http.StatusBadGateway, "malformed response data: "+err.Error())
	}
	return nil
}
