package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/echovoice/pkg/echovoice"
	"github.com/harunnryd/echovoice/pkg/logging"
)

func main() {
	configPath := flag.String("config", "configs/echovoice.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := echovoice.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	providers := echovoice.NewProviderRegistry()
	registerProviders(providers)

	app, err := echovoice.NewEngine(echovoice.EngineOptions{
		Config:    cfg,
		Providers: providers,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("engine_init_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("engine_stopped_with_error", "error", err)
		os.Exit(1)
	}
}
