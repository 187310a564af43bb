// Package app assembles the tracker and the risk engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"awarerisk.org/internal/activity"
	"awarerisk.org/internal/cache"
	"awarerisk.org/internal/config"
	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/httpapi"
	"awarerisk.org/internal/migrate"
	"awarerisk.org/internal/notify"
	"awarerisk.org/internal/phishing"
	"awarerisk.org/internal/risk"
	"awarerisk.org/internal/store/memory"
	"awarerisk.org/internal/store/pg"
)

const (
	hubBacklog     = 256
	migrateTimeout = 30 * time.Second
)

// Services is the wired application graph.
type Services struct {
	Tracker *phishing.Tracker
	Engine  *risk.Engine
	Hub     *notify.Hub
	Probe   httpapi.ReadyProbe

	closers []func() error
}

// Build opens the configured backends. Without a Postgres DSN everything
// lives in process memory; without Redis scores are read from the store;
// without Kafka notifications go to the log.
func Build(cfg *config.Config, logger *zap.Logger) (_ *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	weights, err := risk.LoadWeights(cfg.WeightsFile)
	if err != nil {
		return nil, err
	}

	var (
		events  phishing.Store
		signals activity.Reader
		dir     directory.Reader
		scores  risk.ScoreStore
	)
	if cfg.PostgresDSN != "" {
		st, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, st.Close)
		s.Probe.DB = st.DB()
		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
			n, err := migrate.NewManager(st.DB(), migrate.Migrations(), nil, migrate.WithLogger(logger)).Up(ctx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("migrate schema: %w", err)
			}
			logger.Info("schema up to date", zap.Int("applied", n))
		}
		events, signals, dir, scores = st, st, st, st
	} else {
		logger.Warn("AWARERISK_PG_DSN not set, using in-memory store")
		st := memory.New()
		events, signals, dir, scores = st, st, st, st
	}

	if cfg.RedisURL != "" {
		rdb, err := cache.Open(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rdb.Close)
		s.Probe.Redis = rdb
		scores = cache.NewScores(scores, rdb, cfg.RedisTTL, logger)
	}

	s.Hub = notify.NewHub(hubBacklog)
	pub := notify.Multi{s.Hub}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(notify.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, k.Close)
		pub = append(pub, k)
	} else {
		pub = append(pub, notify.Log{Logger: logger})
	}

	s.Tracker = phishing.NewTracker(events, dir, pub, phishing.WithLogger(logger))
	s.Engine, err = risk.NewEngine(
		risk.Sources{Phishing: events, Activity: signals, Directory: dir},
		scores,
		risk.WithWeights(weights),
		risk.WithWorkers(cfg.BulkWorkers),
		risk.WithLocation(cfg.LoginLocation()),
		risk.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StartRescoring rescores users on click and report notifications until ctx ends.
func (s *Services) StartRescoring(ctx context.Context) {
	go s.Engine.RescoreOnSignals(ctx, s.Hub.Subscribe(ctx))
}

// Close releases backends in reverse order of acquisition.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
