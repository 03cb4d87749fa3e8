package main

import (
	"fmt"
	"os"

	"codecollab/internal/config"
	"codecollab/internal/logging"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const version = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "codecollab",
		Usage:   "Collaborative code sessions: shared code, remote execution and chat",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./" + config.DefaultPath + " if present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (trace, debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			joinCommand(),
			serveCommand(),
			recentCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and builds the root logger from it.
func loadConfig(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil
}
