package config

import (
	"time"

	envParser "github.com/caarlos0/env/v6"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "UPLOADER_"

// envConfig mirrors Config for environment parsing. It is prefilled from
// the current Config, so unset variables keep earlier values.
type envConfig struct {
	Backend      string `env:"BACKEND"`
	ServerURL    string `env:"SERVER_URL"`
	DatabasePath string `env:"DATABASE_PATH"`
	Token        string `env:"TOKEN"`
	ParentID     string `env:"PARENT_ID"`

	MaxConcurrent  int   `env:"MAX_CONCURRENT_UPLOADS"`
	MaxRetries     int   `env:"MAX_RETRIES"`
	ChunkThreshold int64 `env:"CHUNK_THRESHOLD"`
	ChunkSize      int64 `env:"CHUNK_SIZE"`

	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"`
	BackoffBase         time.Duration `env:"BACKOFF_BASE"`
	BackoffCap          time.Duration `env:"BACKOFF_CAP"`
	CancelGrace         time.Duration `env:"CANCEL_GRACE"`
	OnlineCheckInterval time.Duration `env:"ONLINE_CHECK_INTERVAL"`

	ProbeMode   string `env:"PROBE_MODE"`
	ProbeTarget string `env:"PROBE_TARGET"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Prefix    string `env:"S3_PREFIX"`

	Verbose bool `env:"VERBOSE"`
}

// parseEnv overlays Config with UPLOADER_* variables. It panics when a
// variable cannot be parsed into its field type.
func parseEnv(cfg *Config) {
	ec := envConfig{
		Backend:             string(cfg.Backend),
		ServerURL:           cfg.ServerURL,
		DatabasePath:        cfg.DatabasePath,
		Token:               cfg.Token,
		ParentID:            cfg.ParentID,
		MaxConcurrent:       cfg.MaxConcurrent,
		MaxRetries:          cfg.MaxRetries,
		ChunkThreshold:      cfg.ChunkThreshold,
		ChunkSize:           cfg.ChunkSize,
		RequestTimeout:      cfg.RequestTimeout,
		BackoffBase:         cfg.BackoffBase,
		BackoffCap:          cfg.BackoffCap,
		CancelGrace:         cfg.CancelGrace,
		OnlineCheckInterval: cfg.OnlineCheckInterval,
		ProbeMode:           string(cfg.ProbeMode),
		ProbeTarget:         cfg.ProbeTarget,
		S3Bucket:            cfg.S3.Bucket,
		S3Region:            cfg.S3.Region,
		S3Endpoint:          cfg.S3.Endpoint,
		S3AccessKey:         cfg.S3.AccessKey,
		S3SecretKey:         cfg.S3.SecretKey,
		S3Prefix:            cfg.S3.Prefix,
		Verbose:             cfg.Verbose,
	}

	if err := envParser.Parse(&ec, envParser.Options{Prefix: EnvPrefix}); err != nil {
		panic(err)
	}

	cfg.Backend = Backend(ec.Backend)
	cfg.ServerURL = ec.ServerURL
	cfg.DatabasePath = ec.DatabasePath
	cfg.Token = ec.Token
	cfg.ParentID = ec.ParentID
	cfg.MaxConcurrent = ec.MaxConcurrent
	cfg.MaxRetries = ec.MaxRetries
	cfg.ChunkThreshold = ec.ChunkThreshold
	cfg.ChunkSize = ec.ChunkSize
	cfg.RequestTimeout = ec.RequestTimeout
	cfg.BackoffBase = ec.BackoffBase
	cfg.BackoffCap = ec.BackoffCap
	cfg.CancelGrace = ec.CancelGrace
	cfg.OnlineCheckInterval = ec.OnlineCheckInterval
	cfg.ProbeMode = ProbeMode(ec.ProbeMode)
	cfg.ProbeTarget = ec.ProbeTarget
	cfg.S3 = S3{
		Bucket:    ec.S3Bucket,
		Region:    ec.S3Region,
		Endpoint:  ec.S3Endpoint,
		AccessKey: ec.S3AccessKey,
		SecretKey: ec.S3SecretKey,
		Prefix:    ec.S3Prefix,
	}
	cfg.Verbose = ec.Verbose
}
