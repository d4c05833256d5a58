// Package app wires the commit log, state machine, and transports together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/i-melnichenko/kvelldb/internal/consensus"
	"github.com/i-melnichenko/kvelldb/internal/service"
	healthgrpc "github.com/i-melnichenko/kvelldb/internal/transport/grpc/health"
	kvhttp "github.com/i-melnichenko/kvelldb/internal/transport/http/kv"
)

// Logger is the logging interface required by App.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// App wires consensus and the KV state machine into a runnable service.
// All dependencies are injected; App only owns listeners and servers.
type App struct {
	config    Config
	logger    Logger
	consensus consensus.Consensus
	kv        *service.KV
	httpSrv   *kvhttp.Server
	health    *healthgrpc.Reporter
}

// New validates dependencies and constructs a runnable application.
func New(
	cfg Config,
	logger Logger,
	c consensus.Consensus,
	kvSvc *service.KV,
	httpSrv *kvhttp.Server,
	health *healthgrpc.Reporter,
) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}
	if c == nil {
		return nil, fmt.Errorf("app: nil consensus")
	}
	if kvSvc == nil {
		return nil, fmt.Errorf("app: nil kv service")
	}
	if httpSrv == nil {
		return nil, fmt.Errorf("app: nil http server")
	}
	if health == nil {
		return nil, fmt.Errorf("app: nil health reporter")
	}
	return &App{
		config:    cfg,
		logger:    logger,
		consensus: c,
		kv:        kvSvc,
		httpSrv:   httpSrv,
		health:    health,
	}, nil
}

// Stop stops the underlying consensus engine.
func (a *App) Stop() {
	a.consensus.Stop()
}

// Run starts consensus and every server and blocks until shutdown or fatal error.
func (a *App) Run(ctx context.Context) error {
	a.consensus.Run(ctx)

	httpLis, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", a.config.HTTPAddr, err)
	}
	defer func() { _ = httpLis.Close() }()

	grpcLis, err := net.Listen("tcp", a.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.config.GRPCAddr, err)
	}
	defer func() { _ = grpcLis.Close() }()

	a.logger.Info(
		"node started",
		"node_id", a.config.NodeID,
		"storage_engine", a.config.StorageEngine,
		"http_addr", a.config.HTTPAddr,
		"grpc_addr", a.config.GRPCAddr,
	)

	return a.serve(ctx, httpLis, grpcLis)
}

// serve starts servers and background loops, and blocks until ctx is
// canceled or a fatal error occurs.
func (a *App) serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	grpcServer := grpc.NewServer()
	a.health.Register(grpcServer)

	httpServer := &http.Server{
		Handler:           a.httpSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv, metricsLis, err := a.metricsServer()
	if err != nil {
		return err
	}
	pprofSrv, pprofLis, err := a.pprofServer()
	if err != nil {
		if metricsLis != nil {
			_ = metricsLis.Close()
		}
		return err
	}

	errCh := make(chan error, 5)

	go func() {
		if err := a.kv.RunApplyLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("kv apply loop: %w", err)
		}
	}()
	go a.health.Run(ctx)
	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	if metricsSrv != nil {
		a.logger.Info("metrics server started", "addr", a.config.MetricsAddr)
		go func() {
			if err := metricsSrv.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics serve: %w", err)
			}
		}()
	}
	if pprofSrv != nil {
		a.logger.Info("pprof server started", "addr", a.config.PprofAddr)
		go func() {
			if err := pprofSrv.Serve(pprofLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("pprof serve: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownHTTPServer(httpServer, a.logger, "http server")
	shutdownHTTPServer(metricsSrv, a.logger, "metrics server")
	shutdownHTTPServer(pprofSrv, a.logger, "pprof server")
	if runErr != nil {
		grpcServer.Stop()
		return runErr
	}
	grpcServer.GracefulStop()
	return nil
}
