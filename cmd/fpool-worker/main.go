package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filepool/pkg/abort"
	"filepool/pkg/app"
	"filepool/pkg/config"
	"filepool/pkg/logging"
	"filepool/pkg/metrics"
	"filepool/pkg/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.fpool/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		log.Fatal().Err(err).Msg("❌ Config error")
	}
	settings, err := config.Current()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Config error")
	}
	logger := logging.Setup(settings.Log.Level, settings.Log.Console)

	// 2. Init Core Application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.NewApp(ctx, settings,
		app.WithLogger(logger),
		app.WithMetricsRegistry(metrics.Registry),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("❌ Failed to initialize app")
	}
	logger.Info().Str("system", application.Self.String()).Str("filedir", application.Store.Root()).Msg("✅ filepool core initialized")

	// 3. Setup gRPC health endpoint
	lis, err := net.Listen("tcp", settings.Worker.GRPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", settings.Worker.GRPCAddr).Msg("❌ Failed to listen")
	}
	grpcServer := server.NewGRPCServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	// Enable Reflection for debugging tools (grpcurl)
	reflection.Register(grpcServer)

	go func() {
		logger.Info().Str("addr", settings.Worker.GRPCAddr).Msg("🚀 gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	// 4. Metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              settings.Worker.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", settings.Worker.MetricsAddr).Msg("📈 metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	// 5. Background work: job runner + scheduled sweep
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := application.Runner().Run(ctx); err != nil {
			logger.Error().Err(err).Msg("job runner stopped")
		}
	}()
	application.Sweep.Start()

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Warn().Msg("⚠️  Shutting down worker...")
	healthSrv.Shutdown()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	cancel()
	if err := application.Sweep.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sweep did not stop in time")
	}
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("job runner did not stop in time")
	}
	// 正在迁移的文件必须做完
	if err := abort.Default.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("held", abort.Default.Held()).Msg("critical sections still running")
	}

	grpcServer.GracefulStop()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown")
	}
	if err := application.Close(); err != nil {
		logger.Warn().Err(err).Msg("close app")
	}
	logger.Info().Msg("👋 Worker stopped.")
}
