package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raterudder/autarcostatus/pkg/config"
	"github.com/raterudder/autarcostatus/pkg/log"
	"github.com/raterudder/autarcostatus/pkg/poller"
	"github.com/raterudder/autarcostatus/pkg/remote"
	"github.com/raterudder/autarcostatus/pkg/server"
	"github.com/raterudder/autarcostatus/pkg/status"
	"github.com/raterudder/autarcostatus/pkg/supervisor"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	cfg := config.Configured()
	cache := status.NewCache()

	// init server
	srv := server.Configured(cache)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	log.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var client remote.Client
	switch cfg.Remote {
	case config.RemoteMock:
		client = remote.NewMock(4000, 1000)
	default:
		client = remote.NewAutarco(cfg.BaseURL, cfg.SiteID, cfg.Timeout)
	}
	log.Ctx(ctx).InfoContext(ctx, "configuration loaded", slog.Any("config", cfg))

	p := poller.New(client, cache, cfg.Credentials(), poller.Options{
		Interval: cfg.PollInterval,
	})

	// Run blocks until a signal arrives or either task stops
	if err := supervisor.Run(ctx, p, srv); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "exiting with error", slog.Any("error", err))
		cancel()
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
