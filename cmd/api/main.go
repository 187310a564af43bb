package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"awarerisk.org/internal/app"
	"awarerisk.org/internal/config"
	"awarerisk.org/internal/httpapi"
	"awarerisk.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := obs.InitLogger(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer obs.Sync()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	svc, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close services", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc.StartRescoring(ctx)

	api := httpapi.New(svc.Tracker, svc.Engine, svc.Probe, version,
		httpapi.WithLogger(logger),
		httpapi.WithDevTokens(cfg.DevTokens),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging(logger)))
	httpapi.NewGRPCServer(svc.Probe).Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	logger.Info("starting awarerisk-api",
		zap.String("version", version),
		zap.String("http_addr", srv.Addr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("env", cfg.Env),
	)

	errc := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
}
