package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quorum/internal/catalog"
	"quorum/internal/config"
	"quorum/internal/consensus"
	"quorum/internal/events"
	"quorum/internal/invoker"
	"quorum/internal/store"
	"quorum/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("quorum %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: quorum <command>\n\nCommands:\n  gateway    Start the Quorum gateway service\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting quorum gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite catalog cache, optional
	var db *store.Store
	if cfg.Store.Path != "" {
		db, err = store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer db.Close()
		slog.Info("store initialized", "path", cfg.Store.Path)
	}

	// Embedded NATS
	bus, err := events.NewBus(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	evc, err := events.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer evc.Close()

	// Consensus engine
	inv := invoker.New()
	engine := consensus.New(inv, evc, cfg.Consensus.RetryBudget, cfg.Consensus.ChairmanRetries)

	// Model catalog
	cat := catalog.New(db, cfg.Catalog)

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(engine, cat, evc, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
