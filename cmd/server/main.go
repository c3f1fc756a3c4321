package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/archive/memory"
	"github.com/DoyleJ11/festival-ballot/internal/archive/postgres"
	"github.com/DoyleJ11/festival-ballot/internal/config"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
	"github.com/DoyleJ11/festival-ballot/internal/httpapi"
	"github.com/DoyleJ11/festival-ballot/internal/hub"
	"github.com/DoyleJ11/festival-ballot/internal/logging"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	app := &cli.App{
		Name:   "festival-ballot",
		Usage:  "Serve the festival song ballot over HTTP and websockets",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	h := hub.NewHub(ctx, hub.Options{
		Archive:      store,
		TickInterval: cfg.TickInterval,
		IdleTimeout:  cfg.IdleTimeout,
		Logger:       logger,
	})
	defer h.Shutdown()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(h, httpapi.Config{
			Songs:        engine.FestivalSongs,
			CountdownSec: cfg.CountdownSec,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Int("countdown_sec", cfg.CountdownSec))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, archived ballots live in memory only")
		return memory.NewStore(), func() {}, nil
	}
	store, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("close archive", zap.Error(err))
		}
	}, nil
}
