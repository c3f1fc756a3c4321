package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/archive/memory"
	"github.com/DoyleJ11/festival-ballot/internal/archive/postgres"
	"github.com/DoyleJ11/festival-ballot/internal/config"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
	"github.com/DoyleJ11/festival-ballot/internal/logging"
	"github.com/DoyleJ11/festival-ballot/internal/tui"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	app := &cli.App{
		Name:  "ballot-tui",
		Usage: "Pass-the-keyboard festival song ballot",
		Flags: append(config.Flags(), &cli.StringFlag{
			Name:    "log-file",
			Usage:   "Write logs here; logging is off when empty",
			EnvVars: []string{"LOG_FILE"},
		}),
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

	logger := zap.NewNop()
	if path := c.String("log-file"); path != "" {
		if logger, err = logging.New(cfg.LogLevel, cfg.LogDev, path); err != nil {
			return err
		}
	}
	defer logger.Sync() //nolint:errcheck

	var store archive.Store = memory.NewStore()
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(c.Context, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	}

	model := tui.NewModel(tui.Options{
		Songs:        engine.FestivalSongs,
		CountdownSec: cfg.CountdownSec,
		TickInterval: cfg.TickInterval,
		Archive:      store,
	})
	logger.Info("ballot terminal started", zap.Int("countdown_sec", cfg.CountdownSec))

	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
