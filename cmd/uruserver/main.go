package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimue-net/uruserver/internal/config"
	"github.com/nimue-net/uruserver/internal/db/memory"
	"github.com/nimue-net/uruserver/internal/db/postgres"
	"github.com/nimue-net/uruserver/internal/server"
	"github.com/nimue-net/uruserver/internal/vault"
)

const defaultConfigPath = "config/uruserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := flag.String("config", defaultConfigPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	slog.Info("uruserver starting", "bind", cfg.BindAddress, "port", cfg.Port,
		"data_root", cfg.DataRoot, "db", cfg.Database.Backend)

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func openStore(ctx context.Context, cfg config.Server) (vault.Store, func(), error) {
	switch cfg.Database.Backend {
	case "", "memory":
		slog.Warn("using in-memory store, nothing will persist across restarts")
		return memory.New(), func() {}, nil
	case "postgres":
		if err := postgres.RunMigrations(ctx, cfg.Database.DSN); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		db, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		slog.Info("database connected and migrated")
		return postgres.New(db.Pool()), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

func logLevel(name string) slog.Level {
	switch name {
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
