package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"SettleLedger/internal/config"
	"SettleLedger/internal/core"
	"SettleLedger/internal/ingestion"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/query"
	"SettleLedger/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.NewLogger("settleledger")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, logCloser := observability.NewLoggerFromConfig("settleledger", cfg.Log)
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("SettleLedger exited with error")
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("SettleLedger shutdown complete")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("SettleLedger starting")
	sub := func(name string) zerolog.Logger {
		return logger.With().Str("subsystem", name).Logger()
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := persistence.OpenPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxOpen, cfg.PostgresMaxIdle)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("Postgres connected")

	if cfg.AutoMigrate {
		if err := persistence.NewMigrator(db, nil, sub("migrator")).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	store := persistence.NewPostgresStore(db, sub("store"))
	healthChecker.AddCheck("postgres", store.Ping)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", ingestion.NATSHealthCheck(nc))

	if err := ingestion.EnsureStreams(ctx, js, cfg.SubjectPrefix, logger); err != nil {
		return err
	}

	// --- Deduplication: LRU warmed from the durable digest log ---
	digestLog := persistence.NewPostgresDigestLog(db)
	digestChan := make(chan persistence.DigestRow, cfg.DigestBatchSize*4)
	filter := core.NewDuplicateFilter(cfg.DedupLRUCapacity, digestLog, digestChan, metrics,
		sub("dedup"))

	recent, err := digestLog.Recent(ctx, cfg.DedupWarmWindow, cfg.DedupLRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to warm dedup cache, starting cold")
	} else {
		slices.Reverse(recent)
		filter.Warm(recent)
		logger.Info().Int("digests", len(recent)).Msg("dedup cache warmed")
	}

	errChan := make(chan error, 8)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	digestWorker := persistence.NewDigestWorker(digestLog, digestChan, cfg.DigestBatchSize, cfg.DigestFlush, metrics,
		sub("digest_worker"))
	digestDone := make(chan struct{})
	go func() {
		defer close(digestDone)
		if err := digestWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("digest worker: %w", err)
		}
	}()

	go runPeriodicPrune(ctx, digestLog, cfg.DedupRetention, cfg.PruneInterval, logger)

	// --- Dispatcher ---
	dispatcher := core.NewDispatcher(core.Options{
		Store: store,
		Alerts: core.MultiAlertSink{
			core.LogAlertSink{Logger: sub("alerts")},
			ingestion.NewAlertPublisher(js),
		},
		Filter:  filter,
		Metrics: metrics,
		Logger:  sub("dispatcher"),
	})

	// --- Lanes fed by NATS consumers and manual injection ---
	inbound := make(chan ingestion.RawMessage, cfg.LaneQueueSize)
	lanes := ingestion.NewLanePool(ingestion.LaneConfig{
		Lanes:     cfg.Lanes,
		QueueSize: cfg.LaneQueueSize,
		Prefix:    cfg.SubjectPrefix,
	}, dispatcher, metrics, sub("lanes"))
	lanes.Start(workerCtx, inbound)

	subscriber := ingestion.NewNATSSubscriber(js, inbound, sub("nats"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects(cfg.SubjectPrefix)); err != nil {
		return err
	}

	// --- gRPC / HTTP gateway / metrics ---
	srv := server.New(server.Addrs{
		GRPC:    cfg.GRPCAddr,
		HTTP:    cfg.HTTPAddr,
		Metrics: cfg.MetricsAddr,
	}, server.Deps{
		Records:  query.NewService(store, metrics),
		Injector: ingestion.NewInjector(inbound, cfg.SubjectPrefix),
		Health:   healthChecker,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   sub("server"),
	})
	for name, start := range map[string]func(context.Context) error{
		"grpc":    srv.StartGRPC,
		"http":    srv.StartHTTPGateway,
		"metrics": srv.StartMetrics,
	} {
		name, start := name, start
		go func() {
			if err := start(ctx); err != nil {
				errChan <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	srv.SetServing(true)
	logger.Info().
		Int("lanes", lanes.Lanes()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("SettleLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake first, let lanes finish in-flight messages, then flush
	// digests. Unacked messages are redelivered after restart.
	srv.SetServing(false)
	subscriber.Stop()
	lanes.Stop()
	cancel()

	drained := make(chan struct{})
	go func() {
		lanes.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		// lanes are the only digest producers
		close(digestChan)
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("lanes did not drain before shutdown timeout")
		stopWorkers()
	}

	select {
	case <-digestDone:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("digest worker did not flush before shutdown timeout")
	}
	return runErr
}

// runPeriodicPrune removes durable digests older than retention. Redeliveries
// older than the stream's max age cannot arrive, so their digests are dead.
func runPeriodicPrune(ctx context.Context, log *persistence.PostgresDigestLog, retention, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := log.Prune(ctx, retention)
			if err != nil {
				logger.Warn().Err(err).Msg("digest prune failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("pruned", n).Msg("pruned processed envelope digests")
			}
		}
	}
}
