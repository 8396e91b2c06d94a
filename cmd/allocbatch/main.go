package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"allocbatch/internal/config"
	"allocbatch/internal/events"
	"allocbatch/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		boot.Fatal().Err(err).Msg("failed to load env file")
	}

	cfg, found, err := config.LoadOrDefault(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	if !found {
		boot.Warn().Str("config", *configPath).Msg("config file not found, using defaults and environment")
	}

	var hub *events.Hub
	if cfg.IsEventsEnabled() {
		hub = events.NewHub(cfg.GetEventsBufferSize(), consoleLogger(os.Stdout))
	}

	logger := setupLogger(cfg.LogLevel, hub)
	logger.Info().
		Str("config", *configPath).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("ledger", string(cfg.Ledger.Kind)).
		Int("maxBatchSize", cfg.Batching.MaxBatchSize).
		Msg("starting allocbatch")

	srv, err := server.New(cfg, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Pending allocations get this long to reach the ledger
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

// setupLogger configures the zerolog logger. With a hub, every log line is
// also published on the event stream.
func setupLogger(level string, hub *events.Hub) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	var out io.Writer = console
	if hub != nil {
		out = zerolog.MultiLevelWriter(console, hub.Writer())
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func consoleLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}
