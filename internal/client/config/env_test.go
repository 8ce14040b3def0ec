package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	t.Setenv("UPLOADER_BACKEND", "s3")
	t.Setenv("UPLOADER_TOKEN", "tok")
	t.Setenv("UPLOADER_CHUNK_THRESHOLD", "1048576")
	t.Setenv("UPLOADER_REQUEST_TIMEOUT", "15s")
	t.Setenv("UPLOADER_S3_BUCKET", "env-bucket")
	t.Setenv("UPLOADER_S3_SECRET_KEY", "secret")
	t.Setenv("UPLOADER_VERBOSE", "true")

	var cfg Config
	cfg.LoadDefaults()
	cfg.S3.Region = "us-east-1"
	parseEnv(&cfg)

	assert.Equal(t, BackendS3, cfg.Backend)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, int64(1<<20), cfg.ChunkThreshold)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, S3{Bucket: "env-bucket", Region: "us-east-1", SecretKey: "secret"}, cfg.S3)
	assert.True(t, cfg.Verbose)

	// untouched values survive
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, ProbeHTTP, cfg.ProbeMode)
}

func TestParseEnv_InvalidValuePanics(t *testing.T) {
	t.Setenv("UPLOADER_MAX_RETRIES", "many")

	var cfg Config
	require.Panics(t, func() { parseEnv(&cfg) })
}
