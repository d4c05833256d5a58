// Package healthgrpc publishes node readiness over the standard gRPC health
// service and offers a small client for probing it.
package healthgrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the KV API.
const ServiceName = "kvelldb.KV"

// DefaultInterval is how often Reporter polls the node when no interval is given.
const DefaultInterval = time.Second

// Source reports whether the node currently accepts commands.
// *service.KV satisfies this interface.
type Source interface {
	IsLeader() bool
}

// Logger is the logging interface used by Reporter.
type Logger interface {
	Info(msg string, args ...any)
}

// Metrics receives the serving state on every change.
type Metrics interface {
	SetNodeServing(nodeID string, serving bool)
}

type noopMetrics struct{}

func (noopMetrics) SetNodeServing(string, bool) {}

// Reporter keeps a grpc health.Server in sync with the node state.
type Reporter struct {
	server   *health.Server
	source   Source
	logger   Logger
	metrics  Metrics
	nodeID   string
	interval time.Duration

	serving *bool
}

// NewReporter creates a reporter. Until Run performs its first poll both the
// overall and the KV service report NOT_SERVING.
func NewReporter(source Source, logger Logger, metrics Metrics, nodeID string, interval time.Duration) *Reporter {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Reporter{
		server:   srv,
		source:   source,
		logger:   logger,
		metrics:  metrics,
		nodeID:   nodeID,
		interval: interval,
	}
}

// Register installs the health service and server reflection on s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
	reflection.Register(s)
}

// Run polls the node until ctx is canceled, then marks every service
// NOT_SERVING so watchers see the shutdown.
func (r *Reporter) Run(ctx context.Context) {
	r.poll()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			r.metrics.SetNodeServing(r.nodeID, false)
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

func (r *Reporter) poll() {
	serving := r.source.IsLeader()
	if r.serving != nil && *r.serving == serving {
		return
	}
	r.serving = &serving

	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus("", st)
	r.server.SetServingStatus(ServiceName, st)
	r.metrics.SetNodeServing(r.nodeID, serving)
	r.logger.Info("health status changed", "node_id", r.nodeID, "status", st.String())
}

// Client is a thin wrapper around the generated HealthClient.
type Client struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// Dial connects to a health server at target.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("health client: dial %s: %w", target, err)
	}
	return &Client{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check asks for the status of service. An empty name reports the server as a whole.
func (c *Client) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("health client: check %q: %w", service, err)
	}
	return resp, nil
}
