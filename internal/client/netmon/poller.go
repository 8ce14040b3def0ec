package netmon

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/logging"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Prober checks whether the remote is reachable. A nil error means yes.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

type PollerOptions struct {
	Interval time.Duration
	Timeout  time.Duration

	// Initial is reported until the first probe completes.
	Initial *models.NetworkStatus
	Logger  logging.Logger
}

// Poller is a Monitor that probes the remote on a fixed interval.
type Poller struct {
	hub
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger
}

func NewPoller(p Prober, opts PollerOptions) *Poller {
	pl := &Poller{prober: p, interval: opts.Interval, timeout: opts.Timeout, log: opts.Logger}
	if pl.interval <= 0 {
		pl.interval = DefaultInterval
	}
	if pl.timeout <= 0 {
		pl.timeout = DefaultProbeTimeout
	}
	if pl.log == nil {
		pl.log = logging.Discard()
	}
	pl.log = pl.log.With("component", "netmon")
	pl.status = models.Online()
	if opts.Initial != nil {
		pl.status = *opts.Initial
	}
	return pl
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ticker.C:
			p.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Check runs one probe and records its outcome.
func (p *Poller) Check(ctx context.Context) models.NetworkStatus {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.prober.Probe(pctx)
	cancel()

	if ctx.Err() != nil {
		// shutting down, the probe result says nothing about the network
		return p.Current()
	}

	next := models.NetworkStatus{IsConnected: true, IsInternetReachable: models.Reachable, Kind: models.NetworkUnknown}
	if err != nil {
		next = models.Offline()
	}
	if p.set(next) {
		if err != nil {
			p.log.Warn(ctx, "remote unreachable", "error", err)
		} else {
			p.log.Info(ctx, "remote reachable")
		}
	}
	return next
}
