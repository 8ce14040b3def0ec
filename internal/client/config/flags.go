package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/flagx"
)

// ValueFlags lists every flag of this package that takes a value, plus the
// JSON config flags. The CLI uses it to tell flag values from file names.
var ValueFlags = []string{
	"-a", "-b", "-d", "-t", "-p", "-n", "-r", "-i",
	"-chunk-threshold", "-chunk-size", "-timeout",
	"-probe", "-probe-target",
	"-s3-bucket", "-s3-region", "-s3-endpoint", "-s3-prefix",
	"-c", "-config",
}

var allFlags = append([]string{"-v"}, ValueFlags[:len(ValueFlags)-2]...)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   upload server base URL
//	-b string   backend: http or s3
//	-d string   path to the sqlite database
//	-t string   bearer token (stored for later runs)
//	-p string   remote parent folder id
//	-n int      max concurrent uploads
//	-r int      max retries per job
//	-i int      online check interval (in seconds)
//	-v          verbose logging
//
// Long flags cover chunking, timeouts, probing and S3. Only known flags are
// kept from os.Args (see flagx.FilterArgs), so positional file names and
// subcommands pass through untouched.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], allFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	backend := fs.String("b", string(cfg.Backend), "upload backend: http or s3")
	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "upload server base URL")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local sqlite database")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "bearer token")
	fs.StringVar(&cfg.ParentID, "p", cfg.ParentID, "remote parent folder id")
	fs.IntVar(&cfg.MaxConcurrent, "n", cfg.MaxConcurrent, "max concurrent uploads")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max retries per file")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")

	fs.Int64Var(&cfg.ChunkThreshold, "chunk-threshold", cfg.ChunkThreshold, "files larger than this many bytes are sent in chunks")
	fs.Int64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")

	probe := fs.String("probe", string(cfg.ProbeMode), "connectivity probe: http, grpc or none")
	fs.StringVar(&cfg.ProbeTarget, "probe-target", cfg.ProbeTarget, "probe URL or gRPC address")

	fs.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "custom S3 endpoint")
	fs.StringVar(&cfg.S3.Prefix, "s3-prefix", cfg.S3.Prefix, "S3 object key prefix")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.Backend = Backend(*backend)
	cfg.ProbeMode = ProbeMode(*probe)
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
		}
	})
}
