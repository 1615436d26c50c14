package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"socialpublish/internal/adapter/cache"
	"socialpublish/internal/app"
	"socialpublish/internal/config"
	"socialpublish/internal/logger"
)

func main() {
	// Initialize structured logger
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	slog.SetDefault(log)

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, cache.NewStateGuard(deps.Redis), deps.NSQProducer)
	if err != nil {
		return err
	}

	if cfg.EnableSweepWorker {
		consumer, err := nsq.NewConsumer(config.TopicPublishSweep, config.ChannelWorker, nsq.NewConfig())
		if err != nil {
			return err
		}
		consumer.AddHandler(application.SweepConsumer)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return err
		}
		defer consumer.Stop()
		slog.Info("sweep consumer connected", "topic", config.TopicPublishSweep, "channel", config.ChannelWorker)
	}

	go application.Scheduler.Run(ctx)

	if !cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}
	return application.Run(ctx)
}
