package providers

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// defaultProbeTimeout bounds a single health check round trip.
const defaultProbeTimeout = 3 * time.Second

// GatewayProbe checks a provider gateway over the standard gRPC health
// protocol (grpc.health.v1). The readiness endpoint consults it when a
// gateway address is configured, so "ready" reflects the real upstream
// rather than the in-process adapter.
type GatewayProbe struct {
	name    string
	conn    *grpc.ClientConn
	client  grpc_health_v1.HealthClient
	timeout time.Duration
}

// NewGatewayProbe creates a probe against addr. The connection is lazy;
// dialing failures surface on the first HealthCheck call.
func NewGatewayProbe(name, addr string) (*GatewayProbe, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider gateway client: %w", err)
	}
	return &GatewayProbe{
		name:    name,
		conn:    conn,
		client:  grpc_health_v1.NewHealthClient(conn),
		timeout: defaultProbeTimeout,
	}, nil
}

// Name identifies the probed gateway in readiness output.
func (p *GatewayProbe) Name() string {
	return p.name
}

// HealthCheck calls Check on the gateway's health service.
func (p *GatewayProbe) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("provider gateway health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("provider gateway not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close releases the client connection.
func (p *GatewayProbe) Close() error {
	return p.conn.Close()
}
