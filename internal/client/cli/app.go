package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dmitrijs2005/gophupload/internal/client/client"
	"github.com/dmitrijs2005/gophupload/internal/client/config"
	"github.com/dmitrijs2005/gophupload/internal/client/manager"
	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/netmon"
	"github.com/dmitrijs2005/gophupload/internal/client/queue"
	"github.com/dmitrijs2005/gophupload/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophupload/internal/client/scheduler"
	"github.com/dmitrijs2005/gophupload/internal/client/transfer"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/filex"
	"github.com/dmitrijs2005/gophupload/internal/logging"
)

type App struct {
	config  *config.Config
	db      *sql.DB
	repo    metadata.Repository
	manager *manager.Manager
	monitor netmon.Monitor
	// poller is nil when connectivity is not probed.
	poller  *netmon.Poller
	closers []io.Closer
	log     logging.Logger
	out     io.Writer
}

// NewApp opens the local database, restores the persisted queue and wires
// the transfer backend and connectivity probe selected by c.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	err := c.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := "info"
	if c.Verbose {
		level = "debug"
	}

	dsn := c.DatabasePath
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dsn, err = filex.EnsureParentDir(dsn); err != nil {
			return nil, fmt.Errorf("error preparing database dir: %w", err)
		}
	}

	db, err := client.InitDatabase(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	a := &App{
		config: c,
		db:     db,
		repo:   metadata.NewSQLiteRepository(db),
		log:    logging.NewJSON(os.Stderr, level),
		out:    os.Stdout,
	}

	tc, err := a.newTransferClient(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	mon, err := a.newMonitor()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.init(ctx, tc, mon); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, tc transfer.Client, mon netmon.Monitor) error {
	c := a.config
	m, err := manager.New(ctx, manager.Deps{
		Persister: queue.NewKVPersister(a.repo, common.UploadQueueKey),
		Monitor:   mon,
		Client:    tc,
	}, manager.Options{
		MaxRetries: c.MaxRetries,
		Scheduler: scheduler.Config{
			MaxConcurrent: c.MaxConcurrent,
			BackoffBase:   c.BackoffBase,
			BackoffCap:    c.BackoffCap,
			CancelGrace:   c.CancelGrace,
		},
		Callbacks: scheduler.Callbacks{
			OnError: func(j models.UploadJob, err error) {
				a.log.Error(context.Background(), "upload failed for good", "file_name", j.FileName, "error", err)
			},
		},
		Logger: a.log,
	})
	if err != nil {
		return err
	}
	a.manager = m
	a.monitor = mon
	return nil
}

// Close releases the probe connection and the database.
func (a *App) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

func (a *App) newTransferClient(ctx context.Context) (transfer.Client, error) {
	c := a.config
	policy := transfer.Policy{ChunkThreshold: c.ChunkThreshold, ChunkSize: c.ChunkSize}

	switch c.Backend {
	case config.BackendS3:
		api, err := transfer.NewS3API(ctx, transfer.S3Connection{
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return transfer.NewS3Client(api, transfer.S3Config{
			Bucket: c.S3.Bucket,
			Prefix: c.S3.Prefix,
			Policy: policy,
			Logger: a.log,
		}), nil
	default:
		tokens, err := a.tokenProvider(ctx)
		if err != nil {
			return nil, err
		}
		return transfer.NewHTTPClient(transfer.HTTPConfig{
			BaseURL:        c.ServerURL,
			Tokens:         tokens,
			Policy:         policy,
			RequestTimeout: c.RequestTimeout,
			Logger:         a.log,
		}), nil
	}
}

// tokenProvider stores a token given on the command line and serves the
// stored one. Without either, requests go out unauthenticated.
func (a *App) tokenProvider(ctx context.Context) (transfer.TokenProvider, error) {
	if tok := strings.TrimSpace(a.config.Token); tok != "" {
		if err := transfer.StoreToken(ctx, a.repo, a.config.ServerURL, tok); err != nil {
			return nil, fmt.Errorf("failed to store token: %w", err)
		}
		return transfer.NewStoredToken(a.repo, a.config.ServerURL), nil
	}

	stored, err := a.repo.Get(ctx, common.AuthTokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	if len(stored) == 0 {
		return nil, nil
	}
	return transfer.NewStoredToken(a.repo, a.config.ServerURL), nil
}

// newMonitor builds the connectivity monitor. The HTTP probe defaults to
// <server url>/health; S3 without an explicit target is not probed.
func (a *App) newMonitor() (netmon.Monitor, error) {
	c := a.config
	var prober netmon.Prober

	switch c.ProbeMode {
	case config.ProbeGRPC:
		p, err := netmon.NewGRPCHealthProber(c.ProbeTarget, "")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		prober = p
	case config.ProbeHTTP:
		target := c.ProbeTarget
		if target == "" && c.Backend == config.BackendHTTP {
			target = strings.TrimRight(c.ServerURL, "/") + "/health"
		}
		if target != "" {
			prober = &netmon.HTTPProber{URL: target, Client: &http.Client{Timeout: netmon.DefaultProbeTimeout}}
		}
	}

	if prober == nil {
		return netmon.NewManual(models.Online()), nil
	}
	a.poller = netmon.NewPoller(prober, netmon.PollerOptions{Interval: c.OnlineCheckInterval, Logger: a.log})
	return a.poller, nil
}

var errUsage = errors.New("usage")
