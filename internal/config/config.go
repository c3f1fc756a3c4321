// Package config turns flags, environment variables and an optional .env
// file into typed settings for both commands.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/DoyleJ11/festival-ballot/internal/engine"
)

type Config struct {
	Addr         string
	CountdownSec int
	TickInterval time.Duration
	IdleTimeout  time.Duration
	DatabaseURL  string
	LogLevel     string
	LogDev       bool
}

// LoadDotenv reads .env files into the environment. Missing files are fine,
// values already set in the environment win.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "HTTP listen address",
			Value:   ":8080",
			EnvVars: []string{"ADDR"},
		},
		&cli.IntFlag{
			Name:    "countdown",
			Usage:   "Seconds a voter has to submit",
			Value:   engine.DefaultCountdownSec,
			EnvVars: []string{"COUNTDOWN_SEC"},
		},
		&cli.DurationFlag{
			Name:    "tick",
			Usage:   "Length of one countdown second",
			Value:   time.Second,
			EnvVars: []string{"TICK_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "session-idle",
			Usage:   "How long a finished session with no clients is kept (negative keeps it forever)",
			Value:   10 * time.Minute,
			EnvVars: []string{"SESSION_IDLE_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Postgres DSN for the ballot archive (memory when empty)",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "log-dev",
			Usage:   "Human readable console logs",
			EnvVars: []string{"LOG_DEV"},
		},
	}
}

func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		Addr:         c.String("addr"),
		CountdownSec: c.Int("countdown"),
		TickInterval: c.Duration("tick"),
		IdleTimeout:  c.Duration("session-idle"),
		DatabaseURL:  c.String("database-url"),
		LogLevel:     c.String("log-level"),
		LogDev:       c.Bool("log-dev"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.CountdownSec <= 0 {
		return errors.New("countdown must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.IdleTimeout == 0 {
		return errors.New("session idle timeout must not be zero")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
