package main

import (
	"errors"
	"fmt"

	"codecollab/internal/store"

	"github.com/urfave/cli/v2"
)

func recentCommand() *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "Inspect stored recent code",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print a participant's recent code",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Participant id", Required: true},
				},
				Action: runRecentShow,
			},
		},
	}
}

func openStore(c *cli.Context, driver, path, redisAddr string, redisDB int) (store.Store, error) {
	st, err := store.Open(c.Context, store.Config{Driver: driver, Path: path, RedisAddr: redisAddr, RedisDB: redisDB})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func runRecentShow(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := openStore(c, cfg.Store.Driver, cfg.Store.Path, cfg.Store.RedisAddr, cfg.Store.RedisDB)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("store.driver is none")
	}
	defer st.Close()

	doc, err := st.Load(c.Context, c.String("user"))
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("No recent code found.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("# %s, saved %s\n%s\n", doc.Language, doc.UpdatedAt.Format("2006-01-02 15:04:05"), doc.Code)
	return nil
}
