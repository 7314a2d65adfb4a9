// Package main 设定变更消费者入口（canon-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"z-novel-canon-api/internal/config"
	"z-novel-canon-api/internal/wire"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/tracer"
)

// dlqAlertThreshold 死信队列告警阈值
const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "canon-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	worker, cleanup, err := wire.InitializeWorker(cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)
	for _, consumer := range worker.Consumers {
		consumer := consumer
		g.Go(func() error {
			return consumer.Run(gctx)
		})
		g.Go(func() error {
			consumer.MonitorDLQ(gctx, dlqAlertThreshold)
			return nil
		})
	}

	logger.Info(ctx, "canon-worker started", "consumers", len(worker.Consumers))

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "canon-worker stopped with error", err)
		for _, consumer := range worker.Consumers {
			consumer.Stop()
		}
		os.Exit(1)
	}
	logger.Info(context.Background(), "canon-worker exited")
}
