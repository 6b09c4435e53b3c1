// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/intake"
	"github.com/flyingrobots/reportgen/internal/jobprocessor"
	"github.com/flyingrobots/reportgen/internal/leaserecovery"
	"github.com/flyingrobots/reportgen/internal/obs"
	"github.com/flyingrobots/reportgen/internal/queue"
	"github.com/flyingrobots/reportgen/internal/redisclient"
	"github.com/flyingrobots/reportgen/internal/scheduler"
	"github.com/flyingrobots/reportgen/internal/storage"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: api|worker|scheduler|leaserecovery|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := docstore.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to mongo", obs.Err(err))
	}
	defer store.Disconnect(context.Background())

	rdb := redisclient.New(cfg)
	defer rdb.Close()

	q := queue.New(rdb, queue.Options{
		Name:              cfg.Queue.Name,
		ProcessingListFmt: cfg.Queue.ProcessingListFmt,
		HeartbeatKeyFmt:   cfg.Queue.HeartbeatKeyFmt,
		HeartbeatTTL:      cfg.Queue.HeartbeatTTL,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BackoffBase:       cfg.Queue.Backoff.Base,
		BackoffMax:        cfg.Queue.Backoff.Max,
		BRPopLPushTimeout: cfg.Queue.BRPopLPushTimeout,
		RemoveOnComplete:  cfg.Queue.RemoveOnComplete,
		RemoveOnFail:      cfg.Queue.RemoveOnFail,
	})

	readyCheck := func(c context.Context) error {
		_, err := rdb.Ping(c).Result()
		return err
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	obs.StartQueueLengthUpdater(ctx, cfg, rdb, logger)

	switch role {
	case "api":
		runAPI(ctx, store, q, cfg, logger)
	case "worker":
		runWorker(ctx, store, q, cfg, logger)
	case "scheduler":
		runScheduler(ctx, store, q, cfg, logger)
	case "leaserecovery":
		runLeaseRecovery(ctx, rdb, q, cfg, logger)
	case "all":
		go runWorker(ctx, store, q, cfg, logger)
		go runScheduler(ctx, store, q, cfg, logger)
		go runLeaseRecovery(ctx, rdb, q, cfg, logger)
		runAPI(ctx, store, q, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q: want api|worker|scheduler|leaserecovery|all\n", role)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, store *docstore.MongoStore, q *queue.Queue, cfg *config.Config, log *zap.Logger) {
	srv := intake.NewServer(store, store, store, q, cfg, log)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("intake server shutdown error", obs.Err(err))
		}
	}()
	if err := srv.Start(); err != nil && ctx.Err() == nil {
		log.Fatal("intake server error", obs.Err(err))
	}
}

func runWorker(ctx context.Context, store *docstore.MongoStore, q *queue.Queue, cfg *config.Config, log *zap.Logger) {
	adapter, err := storage.New(cfg)
	if err != nil {
		log.Fatal("failed to build storage adapter", obs.Err(err))
	}
	processor := jobprocessor.New(store, store.Reader(), adapter, cfg, log)
	consumer := jobprocessor.NewConsumer(q, processor, cfg.Worker.MaxJobConcurrency, log)
	consumer.Run(ctx)
}

func runScheduler(ctx context.Context, store *docstore.MongoStore, q *queue.Queue, cfg *config.Config, log *zap.Logger) {
	t := scheduler.New(store, store, q, cfg, log)
	t.Run(ctx)
}

func runLeaseRecovery(ctx context.Context, rdb *redis.Client, q *queue.Queue, cfg *config.Config, log *zap.Logger) {
	r := leaserecovery.New(cfg, rdb, q, log)
	r.Run(ctx)
}
