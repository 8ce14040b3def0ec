// Package config loads runtime configuration for the uploader CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Environment variables prefixed with UPLOADER_ (see parseEnv).
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   upload server base URL
//	-b string   backend: http or s3
//	-d string   sqlite database path
//	-t string   bearer token
//	-p string   remote parent folder id
//	-n int      max concurrent uploads
//	-r int      max retries per file
//	-i int      online status check interval (seconds)
//	-v          verbose logging
//
// plus -chunk-threshold, -chunk-size, -timeout, -probe, -probe-target and
// -s3-bucket, -s3-region, -s3-endpoint, -s3-prefix.
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "backend": "http",
//	  "server_url": "http://127.0.0.1:8080/api/upload",
//	  "max_concurrent_uploads": 3,
//	  "chunk_threshold": 5242880,
//	  "backoff_cap": "30s",
//	  "online_check_interval": "3s",
//	  "s3": {"bucket": "uploads", "region": "eu-central-1"}
//	}
//
// S3 credentials are read from JSON or UPLOADER_S3_ACCESS_KEY and
// UPLOADER_S3_SECRET_KEY only, never from flags.
package config
