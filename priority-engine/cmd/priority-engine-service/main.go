package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/archive"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/cards"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/collector"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/confidence"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/config"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/httpserver"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/notify"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/pass"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/principal"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
	"github.com/ILLUVRSE/decisions/priority-engine/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}
	if cfg.AutoMigrate {
		if err := migrations.Apply(ctx, db); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		logger.Info("schema applied")
	}

	pg := store.NewPGStore(db)
	if cfg.RulesFile != "" {
		if err := seedRules(ctx, pg, cfg.RulesFile, logger); err != nil {
			logger.Fatal("seed escalation rules", zap.Error(err))
		}
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()
	archiver := newArchiver(ctx, cfg, logger)

	thresholds := aggregator.Thresholds{
		CriticalDamage:  cfg.CriticalDamage,
		UrgentDamage:    cfg.UrgentDamage,
		CriticalETADays: cfg.CriticalETADays,
		UrgentETADays:   cfg.UrgentETADays,
	}
	agg := aggregator.New(logger, aggregator.Options{MaxItems: cfg.MaxItems, Thresholds: thresholds})
	cardSvc := cards.New(pg, publisher, cards.Options{
		ReviewWindow:   cfg.ReviewWindow,
		SnoozeDuration: cfg.SnoozeDuration,
		Thresholds:     thresholds,
		Archiver:       archiver,
		Logger:         logger,
	})
	resolver := confidence.NewResolver(pg, pg, confidence.Options{
		CacheSize:   cfg.CacheSize,
		LockedTTL:   cfg.LockedCacheTTL,
		ObservedTTL: cfg.ObservedCacheTTL,
		Logger:      logger,
	})

	collectors := collector.ViewCollectors(pg)
	for _, hc := range cfg.HTTPCollectors {
		c, err := collector.NewHTTPCollector(collector.HTTPConfig{Name: hc.Name, BaseURL: hc.BaseURL, Retries: 1})
		if err != nil {
			logger.Fatal("http collector", zap.String("collector", hc.Name), zap.Error(err))
		}
		collectors = append(collectors, c)
	}
	fan := collector.NewFanOut(logger, cfg.CollectorTimeout, collectors...)
	runner := pass.NewRunner(fan, agg, cardSvc, pg, pass.Config{
		Tenants:     cfg.Tenants,
		Interval:    cfg.PassInterval,
		Concurrency: cfg.PassConcurrency,
	}, logger)

	server := httpserver.New(httpserver.Deps{
		Store:      pg,
		Cards:      cardSvc,
		Resolver:   resolver,
		Aggregator: agg,
		Runner:     runner,
		Principals: principal.NewExtractor(cfg.JWTSecret),
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	passesDone := make(chan struct{})
	go func() {
		defer close(passesDone)
		runner.Run(ctx)
	}()

	go func() {
		logger.Info("priority engine listening", zap.String("addr", cfg.Addr), zap.Strings("tenants", cfg.Tenants))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	<-passesDone
}

func seedRules(ctx context.Context, st store.Store, path string, logger *zap.Logger) error {
	rules, err := config.LoadRules(path)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if _, err := st.UpsertRule(ctx, r); err != nil {
			return err
		}
	}
	logger.Info("escalation rules seeded", zap.String("file", path), zap.Int("rules", len(rules)))
	return nil
}

func newPublisher(cfg config.Config, logger *zap.Logger) notify.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return notify.NewLogPublisher(logger)
	}
	p, err := notify.NewKafkaPublisher(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
	if err != nil {
		logger.Fatal("kafka publisher", zap.Error(err))
	}
	logger.Info("publishing card events to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	return p
}

func newArchiver(ctx context.Context, cfg config.Config, logger *zap.Logger) archive.Archiver {
	if cfg.S3Bucket == "" {
		return archive.NopArchiver{}
	}
	a, err := archive.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
	if err != nil {
		logger.Fatal("s3 archiver", zap.Error(err))
	}
	logger.Info("archiving resolved cards", zap.String("bucket", cfg.S3Bucket), zap.String("prefix", cfg.S3Prefix))
	return a
}
