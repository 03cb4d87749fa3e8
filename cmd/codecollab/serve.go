package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codecollab/internal/backend"

	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the development execution backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides backend.addr)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	addr := cfg.Backend.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	srv := backend.New(backend.Config{
		ChatHistory: cfg.Backend.ChatHistory,
		Runner: backend.RunnerConfig{
			WorkDir:      cfg.Backend.WorkDir,
			GracePeriod:  cfg.Backend.GracePeriod,
			InputIdle:    cfg.Backend.InputIdle,
			MaxExecution: cfg.Backend.MaxExecution,
		},
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
