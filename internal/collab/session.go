package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"codecollab/internal/analysis"
	"codecollab/internal/store"
	"codecollab/internal/transport"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const saveTimeout = 10 * time.Second

// RecentStore remembers the last successfully run snippet per participant.
type RecentStore interface {
	Save(ctx context.Context, uid string, doc store.Document) error
	Load(ctx context.Context, uid string) (store.Document, error)
}

// Analyzer runs non-realtime code commentary.
type Analyzer interface {
	Run(ctx context.Context, mode analysis.Mode, req analysis.Request) (string, error)
}

// Options configures a Session.
type Options struct {
	Identity  Identity
	Transport transport.Options
	Store     RecentStore
	Analyzer  Analyzer
	ChatLimit *rate.Limiter
	Hooks     Hooks
	Logger    zerolog.Logger

	// NotifyQueue bounds the notification queue. Default 32.
	NotifyQueue int
}

// Session is one participant's attachment to one collaborative session.
// Transport events and user actions are serialised onto a single loop
// goroutine which owns all session state.
type Session struct {
	id    Identity
	conn  *transport.Conn
	m     *machine
	notes *notifier
	store RecentStore
	ai    Analyzer
	log   zerolog.Logger

	actions chan func()
	quit    chan struct{}
	stopped chan struct{}
	detach  sync.Once
	saves   sync.WaitGroup
}

// New creates a session and starts its loop. Nothing is dialled until
// Attach.
func New(opts Options) (*Session, error) {
	if err := opts.Identity.validate(); err != nil {
		return nil, err
	}

	log := opts.Logger.With().
		Str("component", "collab").
		Str("session", opts.Identity.SessionID).
		Logger()

	s := &Session{
		id:      opts.Identity,
		notes:   newNotifier(opts.NotifyQueue),
		store:   opts.Store,
		ai:      opts.Analyzer,
		log:     log,
		actions: make(chan func(), 64),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	topts := opts.Transport
	topts.Logger = opts.Logger
	topts.Handler = s.onTransportEvent
	s.conn = transport.New(topts)

	s.m = newMachine(opts.Identity, s.conn, s.notes, opts.Hooks, log)
	s.m.limit = opts.ChatLimit
	if s.store != nil {
		s.m.remember = s.remember
	}

	go s.loop()
	return s, nil
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.actions:
			fn()
		case <-s.quit:
			return
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return ErrDetached
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrDetached
	}
}

func (s *Session) onTransportEvent(ev transport.Event) {
	s.post(func() { s.m.handleEvent(ev) })
}

// Attach opens the connection. The join announcement goes out as soon as
// the socket opens, and again after every reconnect.
func (s *Session) Attach() {
	s.log.Info().Str("user", s.id.ParticipantID).Msg("attaching")
	s.conn.Connect()
}

// Detach closes the connection with a normal closure, cancels the
// heartbeat and any pending reconnect, and stops the loop after it has
// drained. Pending recent-code saves are awaited. Safe to call more than
// once.
func (s *Session) Detach() error {
	var err error
	s.detach.Do(func() {
		err = s.conn.Close("detach")
		s.do(func() {})
		close(s.quit)
		<-s.stopped
		s.saves.Wait()
		s.log.Info().Msg("detached")
	})
	return err
}

// Notifications delivers status messages. Undrained messages are dropped
// oldest first.
func (s *Session) Notifications() <-chan Notification {
	return s.notes.ch
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() { snap = s.m.snapshot() })
	return snap, err
}

// EditDraft replaces the draft code. It is always allowed.
func (s *Session) EditDraft(code string) error {
	return s.do(func() { s.m.editDraft(code) })
}

// SelectLanguage changes the draft language. It is rejected while an
// execution is in flight.
func (s *Session) SelectLanguage(lang string) error {
	var err error
	if derr := s.do(func() { err = s.m.selectLanguage(lang) }); derr != nil {
		return derr
	}
	return err
}

// Push sends the draft as the new shared state and marks it synced.
func (s *Session) Push() error {
	return s.call(s.m.push)
}

// Run executes the draft.
func (s *Session) Run() error {
	return s.call(s.m.start)
}

// SendInput answers an input_request.
func (s *Session) SendInput(text string) error {
	return s.call(func() error { return s.m.sendInput(text) })
}

// Stop cancels the current execution locally and asks the backend to stop.
func (s *Session) Stop() error {
	return s.do(s.m.stop)
}

func (s *Session) SendChat(text string) error {
	return s.call(func() error { return s.m.sendChat(text) })
}

func (s *Session) ClearOutput() error {
	return s.do(s.m.clearOutput)
}

func (s *Session) call(fn func() error) error {
	var err error
	if derr := s.do(func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}

// LoadRecent replaces the draft with the participant's recent code. A live
// execution is stopped first and its stop confirmation is not shown.
func (s *Session) LoadRecent(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	if err := s.do(s.m.beginLoad); err != nil {
		return err
	}

	doc, err := s.store.Load(ctx, s.id.ParticipantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error().Err(err).Msg("failed to load recent code")
		s.notes.fail("Failed to load recent code.")
		return err
	}

	var found *CodeState
	if err == nil {
		found = &CodeState{Code: doc.Code, Language: doc.Language}
	}
	return s.do(func() { s.m.finishLoad(found) })
}

// Analyze sends the draft, with the current output as context, to the
// analysis endpoint.
func (s *Session) Analyze(ctx context.Context, mode analysis.Mode) (string, error) {
	if s.ai == nil {
		return "", ErrNoAnalyzer
	}

	var req analysis.Request
	err := s.call(func() error {
		var err error
		req, err = s.m.analysisRequest()
		return err
	})
	if err != nil {
		return "", err
	}

	result, err := s.ai.Run(ctx, mode, req)
	if err != nil {
		s.log.Warn().Err(err).Str("mode", string(mode)).Msg("analysis failed")
		s.notes.fail("Analysis failed.")
		return "", err
	}
	return result, nil
}

// remember saves a completed run off the loop. Failures are logged only.
func (s *Session) remember(ran CodeState) {
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		doc := store.Document{Code: ran.Code, Language: ran.Language, UpdatedAt: time.Now().UTC()}
		if err := s.store.Save(ctx, s.id.ParticipantID, doc); err != nil {
			s.log.Error().Err(err).Msg("failed to save recent code")
			return
		}
		s.log.Debug().Str("language", ran.Language).Msg("recent code saved")
	}()
}
