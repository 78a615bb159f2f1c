package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scraperd/scraperd/internal/api"
	"github.com/scraperd/scraperd/internal/clock/system"
	"github.com/scraperd/scraperd/internal/config"
	"github.com/scraperd/scraperd/internal/detector"
	"github.com/scraperd/scraperd/internal/fetcher/headless"
	"github.com/scraperd/scraperd/internal/fetcher/static"
	"github.com/scraperd/scraperd/internal/id/uuid"
	"github.com/scraperd/scraperd/internal/jobs"
	"github.com/scraperd/scraperd/internal/logging"
	memorypublisher "github.com/scraperd/scraperd/internal/publisher/memory"
	pubsubpublisher "github.com/scraperd/scraperd/internal/publisher/pubsub"
	"github.com/scraperd/scraperd/internal/queue"
	"github.com/scraperd/scraperd/internal/resilience"
	"github.com/scraperd/scraperd/internal/results"
	"github.com/scraperd/scraperd/internal/scraper"
	"github.com/scraperd/scraperd/internal/throttle"
	"github.com/scraperd/scraperd/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	q := queue.New(cfg.Jobs.QueueDepth)

	store, sink, err := buildResultStore(ctx, cfg)
	if err != nil {
		logger.Fatal("result store init failed", zap.Error(err))
	}

	pub, pubClose, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	if pubClose != nil {
		defer pubClose()
	}

	manager := jobs.NewManager(jobs.Config{
		RetainCount: cfg.Jobs.RetentionCount,
		RetainAge:   time.Duration(cfg.Jobs.RetentionHours) * time.Hour,
		ListLimit:   cfg.Jobs.ListLimitDefault,
	}, q, clock, idGen, sink, logger.Named("jobs"))

	detect := detector.New(0)
	staticFetcher := static.New(static.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		UserAgents:   cfg.HTTP.UserAgents,
		Timeout:      cfg.StaticTimeout(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})

	var headlessFetcher scraper.Fetcher
	chromeFetcher, err := headless.NewChromedp(headless.Config{
		PoolSize:          cfg.Browser.PoolSize,
		UserAgent:         cfg.HTTP.UserAgent,
		AcquireTimeout:    time.Duration(cfg.Browser.AcquireTimeoutSeconds) * time.Second,
		NavigationTimeout: cfg.NavTimeout(),
		SettleDelay:       time.Duration(cfg.Browser.SettleMillis) * time.Millisecond,
	})
	if err != nil {
		logger.Warn("headless fetcher init failed, dynamic jobs will fail", zap.Error(err))
		headlessFetcher = headless.NewNoop()
	} else {
		headlessFetcher = chromeFetcher
		defer chromeFetcher.Close()
	}

	policy := resilience.NewRetryPolicy(
		cfg.Retry.MaxAttempts,
		time.Duration(cfg.Retry.BaseDelayMs)*time.Millisecond,
		time.Duration(cfg.Retry.MaxDelayMs)*time.Millisecond,
	)
	breaker := resilience.NewBreaker(
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.RecoveryTimeoutSeconds)*time.Second,
		clock,
	)
	exec := resilience.NewExecutor(policy, breaker, logger.Named("resilience"))

	th := throttle.New(throttle.Config{
		MaxPerHost:     cfg.Throttle.PerHostMax,
		MinDelay:       time.Duration(cfg.Throttle.DelayMillis) * time.Millisecond,
		AcquireTimeout: time.Duration(cfg.Throttle.AcquireTimeoutSeconds) * time.Second,
	})

	workerCfg := worker.Config{
		StaticTimeout: cfg.StaticTimeout(),
		NavTimeout:    cfg.NavTimeout(),
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Jobs.Workers; i++ {
		workers = append(workers, worker.New(
			q,
			manager,
			th,
			exec,
			staticFetcher,
			headlessFetcher,
			detect,
			store,
			pub,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	pool := worker.NewPool(workers)

	apiServer := api.NewServer(manager, store, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("workers", cfg.Jobs.Workers))
		pool.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	q.Close()
	logger.Info("shutdown complete")
}

func buildResultStore(ctx context.Context, cfg config.Config) (scraper.ResultStore, jobs.ResultSink, error) {
	switch cfg.Results.Provider {
	case "memory":
		s := results.NewMemoryStore()
		return s, s, nil
	case "fs":
		s, err := results.NewFSStore(cfg.Results.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := results.NewPostgresStore(ctx, results.PostgresConfig{DSN: cfg.Results.DSN})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown results provider %q", cfg.Results.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (scraper.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "none":
		return nil, nil, nil
	case "memory":
		return memorypublisher.New(), nil, nil
	case "pubsub":
		p, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.TopicName)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher provider %q", cfg.Publisher.Provider)
	}
}
