package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/docledger/internal/api"
	"github.com/dvloznov/docledger/internal/app"
	"github.com/dvloznov/docledger/internal/config"
	"github.com/dvloznov/docledger/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "path to docledger.yaml")
		port       = flag.String("port", "", "HTTP server port (overrides config and PORT)")
		bucket     = flag.String("bucket", "", "GCS bucket name for document uploads (overrides config and GCS_BUCKET)")
	)
	flag.Parse()

	bootLog := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *bucket != "" {
		cfg.Storage.Bucket = *bucket
	}

	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Invalid log configuration")
	}

	if cfg.Storage.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - uploads are kept in memory only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	defer a.Close()

	if err := api.Serve(ctx, ":"+cfg.Server.Port, api.NewHandler(a.Handlers(), log), log); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		a.Close()
		os.Exit(1)
	}
}
