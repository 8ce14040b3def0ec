package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/logging"
)

// minPartSize is the smallest non-final part S3 accepts.
const minPartSize int64 = 5 << 20

// s3API is the subset of *s3.Client used by S3Client.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	Opener Opener
	Policy Policy
	Logger logging.Logger
}

// S3Client implements Client on top of an S3 bucket. Objects are stored
// under Prefix/DestinationParentID/JobID/FileName.
type S3Client struct {
	api    s3API
	bucket string
	prefix string
	opener Opener
	policy Policy
	log    logging.Logger
}

func NewS3Client(api s3API, cfg S3Config) *S3Client {
	c := &S3Client{
		api:    api,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		opener: cfg.Opener,
		policy: cfg.Policy.withDefaults(),
		log:    cfg.Logger,
	}
	if c.opener == nil {
		c.opener = FileOpener{}
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	c.log = c.log.With("component", "transfer", "backend", "s3")
	return c
}

type S3Connection struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3API builds an *s3.Client. Static credentials are used when both keys
// are set, otherwise the default AWS credential chain applies. A custom
// endpoint (MinIO and friends) switches to path-style addressing.
func NewS3API(ctx context.Context, conn S3Connection) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(conn.Region)}
	if conn.AccessKey != "" && conn.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conn.AccessKey, conn.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conn.Endpoint != "" {
			o.BaseEndpoint = aws.String(conn.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (c *S3Client) objectKey(job models.UploadJob) string {
	return path.Join(c.prefix, job.DestinationParentID, job.ID, job.FileName)
}

func (c *S3Client) Transfer(ctx context.Context, job models.UploadJob, onProgress ProgressFunc) (RemoteFile, error) {
	src, err := c.opener.Open(ctx, job.SourceRef)
	if err != nil {
		return RemoteFile{}, SourceError(err)
	}
	defer src.Close()

	size := src.Size()
	key := c.objectKey(job)
	tr := &progressTracker{fn: onProgress, total: uint64(size)}

	var uploadID string
	if c.policy.Chunked(size) {
		uploadID, err = c.uploadMultipart(ctx, key, src, tr)
	} else {
		_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          io.NewSectionReader(src, 0, size),
			ContentLength: aws.Int64(size),
		})
		if err == nil {
			tr.ack(uint64(size))
		}
	}
	if err != nil {
		return RemoteFile{}, c.classify(ctx, err)
	}
	return RemoteFile{ID: key, UploadID: uploadID, Size: size}, nil
}

func (c *S3Client) uploadMultipart(ctx context.Context, key string, src Source, tr *progressTracker) (string, error) {
	size := src.Size()
	partSize := max(c.policy.ChunkSize, minPartSize)

	created, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := aws.ToString(created.UploadId)

	parts := make([]awstypes.CompletedPart, 0, Chunks(size, partSize))
	for i := range Chunks(size, partSize) {
		off := int64(i) * partSize
		n := min(partSize, size-off)
		num := aws.Int32(int32(i + 1))

		out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    num,
			Body:          io.NewSectionReader(src, off, n),
			ContentLength: aws.Int64(n),
		})
		if err != nil {
			c.abort(ctx, key, uploadID)
			return "", fmt.Errorf("upload part %d: %w", i+1, err)
		}
		parts = append(parts, awstypes.CompletedPart{ETag: out.ETag, PartNumber: num})
		tr.ack(uint64(n))
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		c.abort(ctx, key, uploadID)
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	return uploadID, nil
}

// abort drops the parts of a failed multipart upload. It runs even when
// ctx is already cancelled.
func (c *S3Client) abort(ctx context.Context, key, uploadID string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	_, err := c.api.AbortMultipartUpload(actx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		c.log.Warn(ctx, "failed to abort multipart upload", "key", key, "upload_id", uploadID, "error", err)
	}
}

func (c *S3Client) classify(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return Cancelled(ctx.Err())
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		r := Rejected(re.HTTPStatusCode(), err.Error())
		r.Err = err
		return r
	}
	return Classify(err)
}
