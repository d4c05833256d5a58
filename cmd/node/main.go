// Package main implements the node process that runs the commit log, the KV
// state machine and its HTTP and gRPC endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	apppkg "github.com/i-melnichenko/kvelldb/internal/app"
	"github.com/i-melnichenko/kvelldb/internal/consensus"
	"github.com/i-melnichenko/kvelldb/internal/consensus/local"
	"github.com/i-melnichenko/kvelldb/internal/kv"
	"github.com/i-melnichenko/kvelldb/internal/observability/metrics"
	"github.com/i-melnichenko/kvelldb/internal/service"
	healthgrpc "github.com/i-melnichenko/kvelldb/internal/transport/grpc/health"
	kvhttp "github.com/i-melnichenko/kvelldb/internal/transport/http/kv"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := apppkg.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := apppkg.InitTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := shutdownTracing(context.Background()); shutdownErr != nil {
			logger.Warn("tracing shutdown failed", "error", shutdownErr)
		}
	}()

	prom, err := metrics.NewPrometheus(nil)
	if err != nil {
		return err
	}

	storage, err := local.OpenStorage(cfg.StorageEngine, cfg.DataDir, cfg.SyncWrites)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := storage.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close storage: %w", closeErr))
		}
	}()

	applyCh := make(chan consensus.ApplyMsg, cfg.ApplyBuffer)
	node, err := local.NewNode(
		cfg.NodeID,
		applyCh,
		storage,
		logger,
		otel.Tracer("kvelldb/internal/consensus/local"),
		prom,
	)
	if err != nil {
		return err
	}
	if seg, ok := storage.(*local.SegmentStorage); ok && seg.RepairedBytes() > 0 {
		logger.Warn("log tail repaired",
			"node_id", cfg.NodeID,
			"truncated_bytes", seg.RepairedBytes(),
		)
	}

	store := kv.NewStore(otel.Tracer("kvelldb/internal/kv"))
	kvSvc, err := service.NewKV(node, store, logger, otel.Tracer("kvelldb/internal/service"), prom, cfg.NodeID)
	if err != nil {
		node.Stop()
		return err
	}

	httpSrv := kvhttp.NewServer(kvSvc, logger, prom, cfg.RequestTimeout)
	httpSrv.Log = node
	health := healthgrpc.NewReporter(kvSvc, logger, prom, cfg.NodeID, cfg.HealthInterval)

	app, err := apppkg.New(cfg, logger, node, kvSvc, httpSrv, health)
	if err != nil {
		node.Stop()
		return err
	}
	defer app.Stop()

	return app.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
