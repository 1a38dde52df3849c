package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"govorilka/internal/api"
	"govorilka/internal/auth"
	"govorilka/internal/chats"
	"govorilka/internal/config"
	"govorilka/internal/filestore"
	"govorilka/internal/httpserver"
	"govorilka/internal/metrics"
	"govorilka/internal/requests"
	"govorilka/internal/storage"
	"govorilka/internal/users"
	"govorilka/internal/ws"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	authService, err := auth.NewService(ctx, auth.Config{
		Secret:        base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry:   cfg.TokenExpiry,
		CacheTTL:      cfg.TokenCacheTTL,
		CacheMaxBytes: cfg.TokenCacheSize,
	})
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := ws.NewHub(m)

	userService := users.NewService(store, hub)
	engine := requests.NewEngine(store, hub)
	manager := chats.NewManager(store, hub, files)

	wsServer := ws.NewServer(authService, userService, engine, manager, hub, m, cfg.AllowedOrigins)
	handlers := api.New(authService, userService, manager, files)

	apiServer := httpserver.New(handlers, wsServer, m, cfg.APIAddr, cfg.AllowedOrigins)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(apiServer.Start)

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
