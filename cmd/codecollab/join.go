package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"codecollab/internal/analysis"
	"codecollab/internal/collab"
	"codecollab/internal/config"
	"codecollab/internal/protocol"
	"codecollab/internal/transport"
	"codecollab/internal/watcher"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "Attach to a collaborative session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session `ID` to join"},
			&cli.BoolFlag{Name: "new", Usage: "Start a new session with a random id"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Participant id (random and anonymous if unset)"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name"},
			&cli.StringFlag{Name: "email", Usage: "Email, used for the display name fallback"},
			&cli.BoolFlag{Name: "anonymous", Usage: "Do not remember recent code"},
			&cli.StringFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Mirror the shared code into `FILE` and take edits from it"},
			&cli.StringFlag{Name: "url", Usage: "WebSocket endpoint (overrides server.url)"},
		},
		Action: runJoin,
	}
}

func identityFromFlags(c *cli.Context) (collab.Identity, error) {
	id := collab.Identity{
		SessionID:     c.String("session"),
		ParticipantID: c.String("user"),
		DisplayName:   c.String("name"),
		Email:         c.String("email"),
		Anonymous:     c.Bool("anonymous"),
	}
	if c.Bool("new") {
		if id.SessionID != "" {
			return id, errors.New("--new and --session are mutually exclusive")
		}
		id.SessionID = uuid.NewString()
	}
	if id.SessionID == "" {
		return id, errors.New("either --session or --new is required")
	}
	if id.ParticipantID == "" {
		id.ParticipantID = uuid.NewString()
		id.Anonymous = true
	}
	return id, nil
}

func reconnectPolicy(cfg *config.Config) backoff.BackOff {
	if cfg.Transport.Backoff == "exponential" {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.Transport.ReconnectDelay
		b.MaxInterval = cfg.Transport.MaxReconnectDelay
		b.MaxElapsedTime = 0
		return b
	}
	return backoff.NewConstantBackOff(cfg.Transport.ReconnectDelay)
}

func runJoin(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	id, err := identityFromFlags(c)
	if err != nil {
		return err
	}
	url := cfg.Server.URL
	if c.IsSet("url") {
		url = c.String("url")
	}

	opts := collab.Options{
		Identity: id,
		Transport: transport.Options{
			URL:               url,
			Backoff:           reconnectPolicy(cfg),
			ReconnectDelay:    cfg.Transport.ReconnectDelay,
			HeartbeatInterval: cfg.Transport.HeartbeatInterval,
			WriteTimeout:      cfg.Transport.WriteTimeout,
			DialTimeout:       cfg.Transport.DialTimeout,
		},
		Logger: log,
	}

	if !id.Anonymous {
		st, err := openStore(c, cfg.Store.Driver, cfg.Store.Path, cfg.Store.RedisAddr, cfg.Store.RedisDB)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
			opts.Store = st
		}
	}
	if cfg.Server.HTTPURL != "" {
		opts.Analyzer = analysis.NewClient(cfg.Server.HTTPURL, cfg.Analysis.PathPrefix, cfg.Analysis.Timeout)
	}
	if cfg.Chat.RatePerSecond > 0 {
		opts.ChatLimit = rate.NewLimiter(rate.Limit(cfg.Chat.RatePerSecond), cfg.Chat.Burst)
	}

	out := os.Stdout
	var sess *collab.Session

	var files *watcher.Watcher
	watchPath := c.String("watch")
	if watchPath != "" {
		files = watcher.New(0, func(path, content string) {
			if err := sess.EditDraft(content); err != nil {
				log.Debug().Err(err).Msg("dropping file edit")
			}
		}, log)
		defer files.Shutdown()
	}

	opts.Hooks = collab.Hooks{
		Output: func(text string) { fmt.Fprint(out, text) },
		Chat: func(m collab.ChatMessage) {
			fmt.Fprintf(out, "<%s> %s\n", m.DisplayName, m.Text)
		},
		Synced: func(state collab.CodeState) {
			if files != nil {
				if err := files.Mirror(watchPath, state.Code); err != nil {
					log.Warn().Err(err).Msg("failed to mirror code")
				}
			}
		},
		Execution: func(state collab.ExecState) {
			if state == collab.WaitingForInput {
				fmt.Fprintln(out, "\n(waiting for input)")
			}
		},
	}

	sess, err = collab.New(opts)
	if err != nil {
		return err
	}
	defer sess.Detach()

	// Edits from the file only start flowing once sess is set.
	if files != nil {
		if err := files.Watch(watchPath); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Session %s as %s. Type /help for commands.\n", id.SessionID, id.Name())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printNotifications(ctx, sess.Notifications(), os.Stderr)
	sess.Attach()

	r := &repl{sess: sess, out: out, log: log}
	return r.run(ctx, os.Stdin)
}

func printNotifications(ctx context.Context, notes <-chan collab.Notification, w io.Writer) {
	for {
		select {
		case n := <-notes:
			fmt.Fprintln(w, "*", n.Message)
		case <-ctx.Done():
			return
		}
	}
}

// session is the part of *collab.Session the REPL drives.
type session interface {
	EditDraft(code string) error
	SelectLanguage(lang string) error
	Push() error
	Run() error
	SendInput(text string) error
	Stop() error
	SendChat(text string) error
	ClearOutput() error
	LoadRecent(ctx context.Context) error
	Analyze(ctx context.Context, mode analysis.Mode) (string, error)
	Snapshot() (collab.Snapshot, error)
}

type repl struct {
	sess session
	out  io.Writer
	log  zerolog.Logger
}

const helpText = `Commands:
  /push              share your draft with the session
  /run               run your draft
  /stop              stop the running program
  /input TEXT        answer the program's input request
  /lang [LANG]       list languages or switch the draft language
  /set CODE          replace the draft (\n for newlines)
  /code              print the draft
  /load              load your most recent successful snippet
  /analyze, /explain ask for commentary on the draft
  /clear             clear the output
  /status            show connection and sync state
  /quit              leave the session
Anything else is sent as a chat message, or as input while the program waits.`

func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := r.handle(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "! %s\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handle runs one input line. Validation failures are returned for
// display; they never end the session.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if strings.TrimSpace(line) == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		snap, err := r.sess.Snapshot()
		if err != nil {
			return true, err
		}
		if snap.Execution == collab.WaitingForInput {
			return false, r.sess.SendInput(line)
		}
		return false, r.sess.SendChat(line)
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, helpText)
		return false, nil
	case "push":
		return false, r.sess.Push()
	case "run":
		return false, r.sess.Run()
	case "stop":
		return false, r.sess.Stop()
	case "input":
		return false, r.sess.SendInput(arg)
	case "lang":
		if arg == "" {
			for _, l := range protocol.Languages() {
				fmt.Fprintf(r.out, "  %-10s %s\n", l.Value, l.Label)
			}
			return false, nil
		}
		return false, r.sess.SelectLanguage(arg)
	case "set":
		return false, r.sess.EditDraft(strings.ReplaceAll(arg, `\n`, "\n"))
	case "code":
		snap, err := r.sess.Snapshot()
		if err != nil {
			return true, err
		}
		fmt.Fprintf(r.out, "# %s\n%s\n", protocol.LanguageLabel(snap.Draft.Language), snap.Draft.Code)
		return false, nil
	case "load":
		return false, r.sess.LoadRecent(ctx)
	case "analyze", "analysis", "explain":
		mode, err := analysis.ParseMode(cmd)
		if err != nil {
			return false, err
		}
		result, err := r.sess.Analyze(ctx, mode)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, result)
		return false, nil
	case "clear":
		return false, r.sess.ClearOutput()
	case "status":
		snap, err := r.sess.Snapshot()
		if err != nil {
			return true, err
		}
		dirty := ""
		if snap.Dirty {
			dirty = " (unpushed changes)"
		}
		fmt.Fprintf(r.out, "connection: %s, execution: %s, language: %s%s\n",
			snap.Connection, snap.Execution, protocol.LanguageLabel(snap.Draft.Language), dirty)
		return false, nil
	}
	return false, fmt.Errorf("unknown command /%s", cmd)
}
