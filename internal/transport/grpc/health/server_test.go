package healthgrpc_test

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	healthgrpc "github.com/i-melnichenko/kvelldb/internal/transport/grpc/health"
)

const bufSize = 1 << 20 // 1 MB

type stubSource struct {
	leader atomic.Bool
}

func (s *stubSource) IsLeader() bool { return s.leader.Load() }

// startServer runs a reporter behind an in-process gRPC server.
func startServer(t *testing.T, src healthgrpc.Source) (*healthgrpc.Client, context.CancelFunc) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	rep := healthgrpc.NewReporter(src, slog.Default(), nil, "n1", 5*time.Millisecond)
	rep.Register(srv)
	go func() { _ = srv.Serve(lis) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rep.Run(ctx)
	}()

	c, err := healthgrpc.Dial(
		"passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		<-done
		_ = c.Close()
		srv.GracefulStop()
	})
	return c, cancel
}

func waitStatus(t *testing.T, c *healthgrpc.Client, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := c.Check(context.Background(), service)
		if err == nil && resp.GetStatus() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Check(%q) = %v, %v; want %v", service, resp, err, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReporter_FollowsSource(t *testing.T) {
	src := &stubSource{}
	src.leader.Store(true)
	c, _ := startServer(t, src)

	waitStatus(t, c, healthgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	waitStatus(t, c, "", healthpb.HealthCheckResponse_SERVING)

	src.leader.Store(false)
	waitStatus(t, c, healthgrpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestReporter_ShutdownReportsNotServing(t *testing.T) {
	src := &stubSource{}
	src.leader.Store(true)
	c, cancel := startServer(t, src)

	waitStatus(t, c, healthgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	cancel()
	waitStatus(t, c, healthgrpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestClient_UnknownService(t *testing.T) {
	c, _ := startServer(t, &stubSource{})

	_, err := c.Check(context.Background(), "nope")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("Check(nope) code = %v, want NotFound", status.Code(err))
	}
}
