// Command ledgerstub serves an in-memory ledger over JSON-RPC, for local
// runs of the http ledger backend.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"allocbatch/internal/ledger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8545", "listen address")
	token := flag.String("token", "", "bearer token required from clients")
	floor := flag.Int64("floor", 0, "lowest allowed allocation in cents")
	maxBody := flag.Int64("max-body", 1<<20, "maximum request body size")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "ledgerstub").Logger()

	mem, err := ledger.NewMemoryLedger(*floor, ledger.DefaultCommitCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create ledger")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           ledger.NewRPCHandler(mem, *token, *maxBody, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ledger server failed")
		}
	}()
	logger.Info().Str("addr", *addr).Int64("floorCents", *floor).Bool("auth", *token != "").Msg("ledger stub listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	logger.Info().Interface("allocations", mem.Snapshot()).Msg("ledger stub stopped")
}
