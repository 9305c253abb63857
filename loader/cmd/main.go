package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"visionrag/bootstrap"
	"visionrag/config"
	"visionrag/loader/internal"
	"visionrag/loader/service"

	"github.com/joho/godotenv"
)

func init() {
	loadEnvVariables()
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("error to load config: ", err)
	}
	logger := bootstrap.NewLogger(cfg.Server)
	slog.SetDefault(logger)

	stack, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		log.Fatal("error to prepare pipeline: ", err)
	}

	watcher, err := internal.NewWatcher(internal.WatcherConfig{
		SourceDir:      cfg.Loader.SourceDir,
		ArchiveDir:     cfg.Loader.ArchiveDir,
		BadDir:         cfg.Loader.BadDir,
		MonitoringTime: cfg.Loader.MonitoringTime,
	}, logger)
	if err != nil {
		log.Fatal("error to create loader directories: ", err)
	}

	service.New(stack.Pipeline, stack.Documents, watcher, logger).Run()

	logger.Info("Closing backends...")
	if err := stack.Close(); err != nil {
		logger.Error("error closing backends", "err", err)
	}
}

func loadEnvVariables() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal("Error loading .env file")
	}
}
