package config

import (
	"fmt"
	"time"
)

// Backend selects the transfer client.
type Backend string

const (
	BackendHTTP Backend = "http"
	BackendS3   Backend = "s3"
)

// ProbeMode selects how connectivity is checked.
type ProbeMode string

const (
	ProbeHTTP ProbeMode = "http"
	ProbeGRPC ProbeMode = "grpc"
	ProbeNone ProbeMode = "none"
)

// S3 holds the object storage settings used with BackendS3.
type S3 struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Config holds runtime settings for the uploader CLI.
//
// Sizes are in bytes. MaxRetries 0 disables retries.
type Config struct {
	Backend      Backend
	ServerURL    string
	DatabasePath string
	Token        string

	// ParentID is the remote folder new uploads go to.
	ParentID string

	MaxConcurrent  int
	MaxRetries     int
	ChunkThreshold int64
	ChunkSize      int64

	RequestTimeout      time.Duration
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	CancelGrace         time.Duration
	OnlineCheckInterval time.Duration

	ProbeMode   ProbeMode
	ProbeTarget string

	S3 S3

	Verbose bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Backend = BackendHTTP
	c.ServerURL = "http://127.0.0.1:8080/api/upload"
	c.DatabasePath = "uploads.db"
	c.MaxConcurrent = 3
	c.MaxRetries = 3
	c.ChunkThreshold = 5 << 20
	c.ChunkSize = 1 << 20
	c.RequestTimeout = 60 * time.Second
	c.BackoffBase = time.Second
	c.BackoffCap = 30 * time.Second
	c.CancelGrace = 5 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.ProbeMode = ProbeHTTP
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHTTP:
		if c.ServerURL == "" {
			return fmt.Errorf("server url is required for the %s backend", c.Backend)
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("bucket is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.ProbeMode {
	case ProbeHTTP, ProbeNone:
	case ProbeGRPC:
		if c.ProbeTarget == "" {
			return fmt.Errorf("probe target is required for %s probing", c.ProbeMode)
		}
	default:
		return fmt.Errorf("unknown probe mode %q", c.ProbeMode)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent uploads must be positive, got %d", c.MaxConcurrent)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.ChunkSize <= 0 || c.ChunkThreshold < 0 {
		return fmt.Errorf("invalid chunking: threshold %d, chunk size %d", c.ChunkThreshold, c.ChunkSize)
	}
	return nil
}
