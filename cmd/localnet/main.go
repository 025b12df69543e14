package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/localnet-go/internal/assistant"
	"github.com/comigor/localnet-go/internal/config"
	"github.com/comigor/localnet-go/internal/engine"
	"github.com/comigor/localnet-go/internal/logger"
	"github.com/comigor/localnet-go/internal/storage"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("localnet stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.L.Warn("failed to load .env", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.L.Warn("failed to close store", "error", err)
		}
	}()

	eng, err := engine.New(*cfg, store)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.L.Warn("failed to close engine", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	r := newREPL(eng, assistant.New(store, cfg.Assistant, nil), os.Stdout)
	r.banner()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.watch(gCtx)
	})
	g.Go(func() error {
		defer stop()
		return r.run(gCtx, os.Stdin)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L.Info("localnet exited")
	return nil
}
