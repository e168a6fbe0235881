// Package main is the entry point of the save cache service.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/auth-platform/savecache-service/internal/app"
	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging)
	logger.Info("starting savecache service",
		slog.String("version", app.Version),
		slog.Any("config", cfg.LogSafe()),
	)

	fx.New(
		app.Options(cfg, app.DefaultRegistry()),
		fx.StartTimeout(cfg.Server.ShutdownTimeout),
		fx.StopTimeout(cfg.Server.ShutdownTimeout+cfg.Cache.FlushTimeout),
	).Run()
}
