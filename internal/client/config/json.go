package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophupload/internal/flagx"
	"github.com/dmitrijs2005/gophupload/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. Absent keys leave the
// runtime Config untouched.
type JsonConfig struct {
	Backend      string `json:"backend"`
	ServerURL    string `json:"server_url"`
	DatabasePath string `json:"database_path"`
	Token        string `json:"token"`
	ParentID     string `json:"parent_id"`

	MaxConcurrent int `json:"max_concurrent_uploads"`
	// MaxRetries is a pointer so that an explicit 0 overrides the default.
	MaxRetries     *int  `json:"max_retries"`
	ChunkThreshold int64 `json:"chunk_threshold"`
	ChunkSize      int64 `json:"chunk_size"`

	RequestTimeout      timex.Duration `json:"request_timeout"`
	BackoffBase         timex.Duration `json:"backoff_base"`
	BackoffCap          timex.Duration `json:"backoff_cap"`
	CancelGrace         timex.Duration `json:"cancel_grace"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`

	ProbeMode   string `json:"probe_mode"`
	ProbeTarget string `json:"probe_target"`

	S3 struct {
		Bucket    string `json:"bucket"`
		Region    string `json:"region"`
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
		Prefix    string `json:"prefix"`
	} `json:"s3"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Without either flag it does nothing. It panics on read or
// unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.Token, jc.Token)
	setString(&cfg.ParentID, jc.ParentID)
	setString(&cfg.ProbeTarget, jc.ProbeTarget)
	if jc.Backend != "" {
		cfg.Backend = Backend(jc.Backend)
	}
	if jc.ProbeMode != "" {
		cfg.ProbeMode = ProbeMode(jc.ProbeMode)
	}

	setNonZero(&cfg.MaxConcurrent, jc.MaxConcurrent)
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	setNonZero(&cfg.ChunkThreshold, jc.ChunkThreshold)
	setNonZero(&cfg.ChunkSize, jc.ChunkSize)

	setNonZero(&cfg.RequestTimeout, jc.RequestTimeout.Duration)
	setNonZero(&cfg.BackoffBase, jc.BackoffBase.Duration)
	setNonZero(&cfg.BackoffCap, jc.BackoffCap.Duration)
	setNonZero(&cfg.CancelGrace, jc.CancelGrace.Duration)
	setNonZero(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval.Duration)

	setString(&cfg.S3.Bucket, jc.S3.Bucket)
	setString(&cfg.S3.Region, jc.S3.Region)
	setString(&cfg.S3.Endpoint, jc.S3.Endpoint)
	setString(&cfg.S3.AccessKey, jc.S3.AccessKey)
	setString(&cfg.S3.SecretKey, jc.S3.SecretKey)
	setString(&cfg.S3.Prefix, jc.S3.Prefix)
}

func setString(dst *string, v string) { setNonZero(dst, v) }

func setNonZero[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
