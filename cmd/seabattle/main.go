package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/seabattle/internal/authserver"
	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/gameserver"
	"github.com/udisondev/seabattle/internal/store"
)

const ConfigPath = "config/server.yaml"

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
	cfgPath := ConfigPath
	if p := os.Getenv("SEABATTLE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	slog.Info("seabattle server starting",
		"bind", cfg.BindAddress,
		"auth_port", cfg.AuthPort,
		"game_port", cfg.GamePort,
		"storage", cfg.Storage.Backend,
	)

	users, err := store.Open(ctx, cfg.Storage, cfg.MinPasswordLen)
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	defer users.Close()

	authServer := authserver.NewServer(cfg, users)
	gameServer := gameserver.NewServer(cfg, users)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := authServer.Run(gctx); err != nil {
			return fmt.Errorf("auth server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := gameServer.Run(gctx); err != nil {
			return fmt.Errorf("game server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
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
