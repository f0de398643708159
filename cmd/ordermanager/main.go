// Order Manager — translates position intents into broker-bound trade
// intents, attributes fills back to the claims that requested them, and
// reconciles drift between desired and actual positions.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the manager, waits for SIGINT/SIGTERM
//	internal/manager/manager.go — orchestrator: wires every component and runs the core event loop
//	internal/triage/triage.go  — C4: intent triage and claim construction
//	internal/tradegen/tradegen.go — C5: claim -> trade intent(s)
//	internal/fill/fill.go      — C6: fill attribution
//	internal/reconciler/reconciler.go — C7: periodic drift and residue sweeps
//	internal/riskgate/riskgate.go — C8: outgoing risk-check gate
//	internal/scheduler/scheduler.go — C3: activation-time delay queue
//	internal/bus/bus.go        — C2: NATS transport adapter
//	internal/store/store.go    — C1: SQLite persistence
//	internal/api/server.go     — health and metrics HTTP surface
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ordermanager/ordermanager/internal/api"
	"github.com/ordermanager/ordermanager/internal/bus"
	"github.com/ordermanager/ordermanager/internal/config"
	"github.com/ordermanager/ordermanager/internal/manager"
	"github.com/ordermanager/ordermanager/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("OM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	b, err := bus.Connect(cfg.Bus.URL, cfg.Bus.Topics, logger)
	if err != nil {
		logger.Error("failed to connect bus", "error", err)
		os.Exit(1)
	}

	mgr := manager.New(*cfg, st, b, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start manager", "error", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(cfg.Server.Port, st)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()
	logger.Info("api server started", "addr", fmt.Sprintf(":%d", cfg.Server.Port))

	logger.Info("order manager started", "store", cfg.Store.DSN, "bus", cfg.Bus.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}

	mgr.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
