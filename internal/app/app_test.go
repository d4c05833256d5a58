package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/kvelldb/internal/consensus"
	"github.com/i-melnichenko/kvelldb/internal/consensus/local"
	"github.com/i-melnichenko/kvelldb/internal/kv"
	"github.com/i-melnichenko/kvelldb/internal/service"
	healthgrpc "github.com/i-melnichenko/kvelldb/internal/transport/grpc/health"
	kvhttp "github.com/i-melnichenko/kvelldb/internal/transport/http/kv"
)

type testDeps struct {
	node   *local.Node
	kv     *service.KV
	http   *kvhttp.Server
	health *healthgrpc.Reporter
}

func newTestDeps(t *testing.T) testDeps {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test/internal/app")
	node, err := local.NewNode("n1", make(chan consensus.ApplyMsg, 4), local.NewInMemoryStorage(), slog.Default(), tracer, nil)
	if err != nil {
		t.Fatalf("local.NewNode() error = %v", err)
	}
	svc, err := service.NewKV(node, kv.NewStore(tracer), slog.Default(), tracer, nil, "n1")
	if err != nil {
		t.Fatalf("service.NewKV() error = %v", err)
	}
	return testDeps{
		node:   node,
		kv:     svc,
		http:   kvhttp.NewServer(svc, slog.Default(), nil, time.Second),
		health: healthgrpc.NewReporter(svc, slog.Default(), nil, "n1", 10*time.Millisecond),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StorageEngine = local.EngineMemory
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	return cfg
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	d := newTestDeps(t)
	cfg := testConfig()

	if _, err := New(cfg, nil, d.node, d.kv, d.http, d.health); err == nil {
		t.Fatalf("New(nil logger) error = nil")
	}
	if _, err := New(cfg, slog.Default(), nil, d.kv, d.http, d.health); err == nil {
		t.Fatalf("New(nil consensus) error = nil")
	}
	if _, err := New(cfg, slog.Default(), d.node, nil, d.http, d.health); err == nil {
		t.Fatalf("New(nil kv) error = nil")
	}
	if _, err := New(cfg, slog.Default(), d.node, d.kv, nil, d.health); err == nil {
		t.Fatalf("New(nil http) error = nil")
	}
	if _, err := New(cfg, slog.Default(), d.node, d.kv, d.http, nil); err == nil {
		t.Fatalf("New(nil health) error = nil")
	}

	bad := cfg
	bad.NodeID = ""
	if _, err := New(bad, slog.Default(), d.node, d.kv, d.http, d.health); err == nil {
		t.Fatalf("New(invalid config) error = nil")
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	d := newTestDeps(t)
	a, err := New(testConfig(), slog.Default(), d.node, d.kv, d.http, d.health)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// The service works while the servers run.
	res := d.kv.SetAndWait(context.Background(), "k", "v", "w", time.Now().Add(2*time.Second))
	if !res.OK() {
		t.Fatalf("SetAndWait() = %+v", res)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestApp_RunFailsOnInvalidAddress(t *testing.T) {
	d := newTestDeps(t)
	cfg := testConfig()
	cfg.HTTPAddr = "256.0.0.1:1"

	a, err := New(cfg, slog.Default(), d.node, d.kv, d.http, d.health)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Stop()

	if err := a.Run(context.Background()); err == nil {
		t.Fatalf("Run() with unusable http addr error = nil")
	}
}
