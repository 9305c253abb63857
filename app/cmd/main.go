package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"visionrag/app/server"
	"visionrag/bootstrap"
	"visionrag/config"

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

	s, err := server.NewServer(context.Background(), cfg, logger)
	if err != nil {
		log.Fatal("error to start server: ", err)
	}

	go s.Run()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	logger.Info("Received shutdown signal, shutting down server...")
	s.Stop()
}

func loadEnvVariables() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal("Error loading .env file")
	}
}
