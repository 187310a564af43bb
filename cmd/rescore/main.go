// Command rescore recalculates the risk score of every user in a tenant.
// It exits non-zero when no user could be scored.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"awarerisk.org/internal/app"
	"awarerisk.org/internal/config"
	"awarerisk.org/internal/obs"
	"awarerisk.org/internal/risk"
)

func main() {
	log.SetFlags(0)
	var (
		tenant  = flag.String("tenant", "", "Tenant to rescore")
		timeout = flag.Duration("timeout", 30*time.Minute, "Overall deadline")
	)
	flag.Parse()
	if *tenant == "" {
		log.Fatal("usage: rescore -tenant <id>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := obs.InitLogger(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	os.Exit(run(cfg, logger, *tenant, *timeout))
}

func run(cfg *config.Config, logger *zap.Logger, tenant string, timeout time.Duration) int {
	defer obs.Sync()

	svc, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("build services", zap.Error(err))
		return 1
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := svc.Engine.BulkCalculateRiskScores(ctx, tenant)
	if err != nil {
		logger.Error("bulk rescore", zap.String("tenant_id", tenant), zap.Error(err))
		return 1
	}
	_ = json.NewEncoder(os.Stdout).Encode(res)
	return exitCode(res)
}

func exitCode(res risk.BulkResult) int {
	if res.Total > 0 && res.Succeeded == 0 {
		return 2
	}
	return 0
}
