package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/studenthub/pkg/logger"
	"github.com/fjod/studenthub/pkg/telemetry"
	"github.com/fjod/studenthub/settlement-service/internal/config"
	settlementhttp "github.com/fjod/studenthub/settlement-service/internal/http"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.ServiceName, cfg.LogLevel)
	log.Info("settlement-service starting")

	ctx, stop := signal.NotifyContext(orBackground(ctx), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.scheduler.Run(workersCtx)
	}()
	go func() {
		defer wg.Done()
		a.poller.Run(workersCtx)
	}()

	// gRPC carries only health and reflection.
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		stopWorkers()
		wg.Wait()
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		log.Info("grpc health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server stopped", "error", err)
		}
	}()

	router := settlementhttp.NewRouter(settlementhttp.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		ServiceName:    cfg.ServiceName,
	}, a.purchases, a.webhooks, a.metrics, log.With("component", "http"))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down settlement-service")
	case err = <-serveErr:
		log.Error("http server failed", "error", err)
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http server shutdown failed", "error", serr)
	}
	grpcServer.GracefulStop()
	stopWorkers()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("background workers didn't stop in time")
	}

	log.Info("settlement-service stopped")
	return err
}
