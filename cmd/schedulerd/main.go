// Command schedulerd wires the scheduler library into a runnable service:
// load config, build a logger and metrics registry, construct the
// dispatcher, register a demo job, start the admin HTTP surface,
// and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	config "tickforge/configs"
	"tickforge/pkg/adminapi"
	"tickforge/pkg/cronspec"
	"tickforge/pkg/logger"
	"tickforge/pkg/metrics"
	"tickforge/pkg/ratelimit"
	"tickforge/pkg/scheduler"
	"tickforge/pkg/store/postgres"
)

func main() {
	cfg := config.LoadConfig()

	lg, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  cfg.ServiceName,
	})
	if err != nil {
		log.Fatalf("schedulerd: build logger: %v", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := scheduler.NewInMemoryStore()
	var triggerStore scheduler.TriggerStore = store

	if cfg.MirrorEnabled && cfg.PostgresDSN != "" {
		mirror, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			lg.Error("failed to open postgres mirror, continuing without it", logger.Err(err))
		} else {
			triggerStore = scheduler.WithMirror(store, mirror, func(op string, err error) {
				lg.Warn("mirror write failed", logger.String("op", op), logger.Err(err))
			})
		}
	}

	var globalRateLimit *ratelimit.Config
	if cfg.GlobalRateLimitBurst > 0 {
		globalRateLimit = &ratelimit.Config{
			RatePerSecond: cfg.GlobalRateLimitPerSecond,
			Burst:         cfg.GlobalRateLimitBurst,
		}
	}

	var distributedGlobal *ratelimit.RedisBucket
	if cfg.RedisAddr != "" && globalRateLimit != nil {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		distributedGlobal = ratelimit.NewRedisBucket(redisClient, "global", *globalRateLimit)
	}

	sched := scheduler.New(scheduler.Options{
		MaxConcurrentRuns:          cfg.MaxConcurrentRuns,
		MisfireToleranceMs:         cfg.MisfireToleranceMs,
		GlobalRateLimit:            globalRateLimit,
		DistributedGlobalRateLimit: distributedGlobal,
		Logger:                     lg,
		Metrics:                    m,
		Store:                      triggerStore,
	})

	registerDemoJobs(sched, lg)

	admin := adminapi.NewServer(adminapi.Config{
		Port:      cfg.AdminPort,
		Scheduler: sched,
		Store:     triggerStore,
		Registry:  registry,
	})

	go func() {
		if err := admin.Start(); err != nil {
			lg.Error("admin server exited", logger.Err(err))
		}
	}()

	waitForShutdown(sched, admin, lg)
}

// registerDemoJobs wires up one illustrative job (heartbeat) so schedulerd does
// something observable out of the box; a real deployment replaces this with
// its own RegisterJob/Schedule calls.
func registerDemoJobs(sched *scheduler.Scheduler, lg logger.Logger) {
	heartbeat := scheduler.Job{
		Name: "heartbeat",
		Handler: func(ctx *scheduler.JobHandlerContext) (any, error) {
			lg.Info("heartbeat", logger.String("run_id", ctx.RunID))
			return "ok", nil
		},
		Concurrency: 1,
		TimeoutMs:   5_000,
	}
	if err := sched.RegisterJob(heartbeat); err != nil {
		lg.Error("failed to register heartbeat job", logger.Err(err))
		return
	}

	next, err := cronspec.Parse("*/1 * * * *")
	if err != nil {
		lg.Error("failed to parse heartbeat schedule", logger.Err(err))
		return
	}

	if _, err := sched.Schedule("heartbeat", scheduler.Spec{
		Kind: scheduler.SpecCron,
		Next: scheduler.NextFunc(next),
	}, scheduler.MisfireSkip, nil, nil); err != nil {
		lg.Error("failed to schedule heartbeat job", logger.Err(err))
	}
}

func waitForShutdown(sched *scheduler.Scheduler, admin *adminapi.Server, lg logger.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	lg.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		lg.Error("admin server shutdown error", logger.Err(err))
	}

	if err := sched.Shutdown(scheduler.ShutdownOptions{Graceful: true, GraceMs: 10_000}); err != nil {
		lg.Error("scheduler shutdown error", logger.Err(err))
	}
}
