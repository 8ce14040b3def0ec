package netmon

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/gophupload/internal/netx"
)

// HTTPProber treats a 2xx answer to GET URL as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	c := p.Client
	if c == nil {
		c = http.DefaultClient
	}
	return netx.Get(ctx, c, p.URL)
}

// GRPCHealthProber asks a grpc.health.v1 service whether Service is
// SERVING. An empty Service checks the server as a whole.
type GRPCHealthProber struct {
	client  healthpb.HealthClient
	conn    *grpc.ClientConn
	Service string
}

// NewGRPCHealthProber connects lazily to target over plaintext unless opts
// say otherwise.
func NewGRPCHealthProber(target, service string, opts ...grpc.DialOption) (*GRPCHealthProber, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health client: %w", err)
	}
	return &GRPCHealthProber{client: healthpb.NewHealthClient(conn), conn: conn, Service: service}, nil
}

func (p *GRPCHealthProber) Probe(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.Service})
	if err != nil {
		return err
	}
	if s := resp.GetStatus(); s != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health status %s", s)
	}
	return nil
}

func (p *GRPCHealthProber) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
