package collab

import (
	"strings"

	"codecollab/internal/analysis"
	"codecollab/internal/protocol"
	"codecollab/internal/transport"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// sender is the part of transport.Conn the session state needs.
type sender interface {
	Send(v any) error
	State() transport.State
}

// Hooks are invoked on the session's event loop. They must not call back
// into the Session.
type Hooks struct {
	// Output receives every chunk appended to the output buffer.
	Output func(text string)
	// Chat receives every chat message as it is appended to the log.
	Chat func(ChatMessage)
	// Synced receives the shared state after hydration, a remote sync, or a
	// successful push.
	Synced func(CodeState)
	// Execution receives every execution state change.
	Execution func(ExecState)
}

// Snapshot is a copy of the session state at one point on the loop.
type Snapshot struct {
	Connection transport.State `json:"connection"`
	Hydrated   bool            `json:"hydrated"`
	Draft      CodeState       `json:"draft"`
	Synced     CodeState       `json:"synced"`
	Dirty      bool            `json:"dirty"`
	Execution  ExecState       `json:"execution"`
	Output     string          `json:"output"`
	Chat       []ChatMessage   `json:"chat"`
}

// machine holds every piece of per-attachment state. It is only touched
// from the session loop, so it has no locking.
type machine struct {
	id    Identity
	conn  sender
	log   zerolog.Logger
	notes *notifier
	hooks Hooks
	limit *rate.Limiter

	// remember is called with runs worth saving as recent code.
	remember func(CodeState)

	sync     SyncState
	exec     executor
	chat     chatLog
	hydrated bool
}

func newMachine(id Identity, conn sender, notes *notifier, hooks Hooks, log zerolog.Logger) *machine {
	m := &machine{
		id:    id,
		conn:  conn,
		log:   log,
		notes: notes,
		hooks: hooks,
		sync:  newSyncState(),
	}
	m.exec.sink = hooks.Output
	return m
}

func (m *machine) connected() bool {
	return m.conn.State() == transport.Connected
}

func (m *machine) setExec(fn func(*executor)) {
	before := m.exec.state
	fn(&m.exec)
	if m.exec.state != before && m.hooks.Execution != nil {
		m.hooks.Execution(m.exec.state)
	}
}

func (m *machine) synced(state CodeState) {
	if m.hooks.Synced != nil {
		m.hooks.Synced(state)
	}
}

// handleEvent applies one transport event.
func (m *machine) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpen:
		m.onOpen()
	case transport.EventMessage:
		m.onMessage(ev.Data)
	case transport.EventClose:
		m.onClose(ev.Code)
	case transport.EventError:
		m.log.Debug().Err(ev.Err).Msg("transport error")
	}
}

// onOpen starts a fresh membership: placeholders until hydration, then
// the join announcement.
func (m *machine) onOpen() {
	m.hydrated = false
	m.sync.reset()
	m.notes.info("Joining session %s...", shortID(m.id.SessionID))
	if err := m.conn.Send(protocol.NewJoin(m.id.SessionID, m.id.ParticipantID, m.id.Name())); err != nil {
		m.log.Warn().Err(err).Msg("failed to send join")
		return
	}
	m.log.Info().Str("session", m.id.SessionID).Str("user", m.id.ParticipantID).Msg("join sent")
}

func (m *machine) onClose(code int) {
	m.hydrated = false
	m.exec.suppressStop = false
	m.setExec((*executor).stop)
	switch {
	case code == transport.CloseNormalClosure:
		m.notes.success("Disconnected.")
	case transport.IsNormalClosure(code):
	default:
		m.notes.fail("Connection lost. Reconnecting...")
	}
}

func (m *machine) onMessage(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		m.log.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	switch msg := msg.(type) {
	case protocol.InitialCodeSync:
		state := m.sync.hydrate(msg.Payload)
		m.hydrated = true
		m.notes.success("Session joined. Code synced.")
		m.synced(state)

	case protocol.CodeSync:
		var state CodeState
		if m.hydrated {
			state = m.sync.applyRemote(msg.Payload)
			m.notes.info("Code updated by collaborator.")
		} else {
			state = m.sync.hydrate(msg.Payload)
			m.hydrated = true
			m.notes.success("Session joined. Code synced.")
		}
		m.synced(state)

	case protocol.ChatMessage:
		entry := m.chat.append(msg.Payload)
		if m.hooks.Chat != nil {
			m.hooks.Chat(entry)
		}

	case protocol.CollabUpdate:
		if msg.Text != "" {
			m.notes.info("%s", msg.Text)
		}

	case protocol.Output:
		m.exec.write(msg.Data)

	case protocol.InputRequest:
		m.setExec((*executor).inputRequested)

	case protocol.ExecutionStarted:
		m.setExec((*executor).started)

	case protocol.ExecutionComplete:
		m.onComplete(msg.Summary)

	case protocol.ExecutionError:
		m.setExec(func(e *executor) { e.fail(msg.Message) })

	case protocol.Pong:
		m.log.Trace().Msg("pong")

	default:
		m.log.Warn().Str("type", msg.Kind()).Msg("ignoring unknown message type")
	}
}

func (m *machine) onComplete(summary string) {
	ran := m.exec.ran
	output := m.exec.Output()

	var suppressed bool
	m.setExec(func(e *executor) { suppressed = e.complete(summary) })
	if suppressed {
		m.log.Debug().Msg("suppressed stop confirmation")
		return
	}

	code := exitCode(summary)
	m.log.Info().Int("exit_code", code).Msg("execution complete")

	if ran != nil && m.remember != nil && shouldRemember(m.id, *ran, output) {
		m.remember(*ran)
	}
}

func (m *machine) editDraft(code string) {
	m.sync.draft.Code = code
}

func (m *machine) selectLanguage(lang string) error {
	if !protocol.IsSupported(lang) {
		m.notes.fail("Unsupported language: %s", lang)
		return ErrUnsupportedLanguage
	}
	if m.exec.state.Live() {
		m.notes.fail("Cannot change language while code is running.")
		return ErrBusy
	}
	m.sync.draft.Language = lang
	if lang != m.sync.synced.Language {
		m.notes.info("Language set to %s. Push to sync.", protocol.LanguageLabel(lang))
	}
	return nil
}

func (m *machine) push() error {
	if !m.connected() {
		m.notes.fail("Cannot apply: Disconnected.")
		return ErrNotConnected
	}
	if !m.sync.Dirty() {
		m.notes.info("No changes to apply.")
		return ErrNothingToPush
	}
	draft := m.sync.draft
	if !protocol.IsSupported(draft.Language) {
		m.notes.fail("Unsupported language: %s", draft.Language)
		return ErrUnsupportedLanguage
	}
	if err := m.conn.Send(protocol.NewSyncCode(m.id.SessionID, draft.Code, draft.Language, m.id.ParticipantID)); err != nil {
		m.notes.fail("Failed to sync changes.")
		return err
	}
	state := m.sync.commit()
	m.notes.success("Changes synced!")
	m.synced(state)
	return nil
}

// start runs the draft. Local participants run their own edits without
// a prior push.
func (m *machine) start() error {
	if !m.connected() {
		m.notes.fail("Cannot run: Disconnected.")
		return ErrNotConnected
	}
	if m.exec.state.Live() {
		m.notes.fail("Execution already in progress.")
		return ErrBusy
	}

	draft := m.sync.draft
	m.setExec(func(e *executor) { e.begin(draft) })
	if err := m.conn.Send(protocol.NewExecute(draft.Language, draft.Code)); err != nil {
		m.setExec(func(e *executor) {
			e.write("\nFailed to send code: " + err.Error() + "\n")
			e.stop()
		})
		return err
	}
	m.log.Info().Str("language", draft.Language).Msg("execution requested")
	return nil
}

func (m *machine) sendInput(text string) error {
	if m.exec.state != WaitingForInput {
		m.notes.fail("Program is not waiting for input.")
		return ErrNotWaitingForInput
	}
	if !m.connected() {
		m.notes.fail("Cannot send input: Disconnected.")
		return ErrNotConnected
	}
	m.setExec(func(e *executor) { e.input(text) })
	if err := m.conn.Send(protocol.NewInput(text)); err != nil {
		m.exec.write("\nFailed to send input\n")
		return err
	}
	return nil
}

// stop is optimistic. Late output and completions that follow it are
// still appended.
func (m *machine) stop() {
	if m.connected() {
		if err := m.conn.Send(protocol.NewStop()); err != nil {
			m.log.Warn().Err(err).Msg("failed to send stop")
		}
	}
	m.setExec((*executor).stop)
}

func (m *machine) sendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		m.notes.fail("Message is empty.")
		return ErrEmptyMessage
	}
	if !m.connected() {
		m.notes.fail("Cannot send message: Disconnected.")
		return ErrNotConnected
	}
	if m.limit != nil && !m.limit.Allow() {
		m.notes.fail("Slow down: too many messages.")
		return ErrRateLimited
	}
	payload := protocol.ChatPayload{Text: text, UserID: m.id.ParticipantID, DisplayName: m.id.Name()}
	return m.conn.Send(protocol.NewChat(m.id.SessionID, payload))
}

// beginLoad prepares for replacing the draft with stored content. A live
// execution is stopped and its confirmation suppressed, since the buffer
// is about to be cleared anyway.
func (m *machine) beginLoad() {
	if m.exec.state.Live() {
		m.exec.suppressStop = true
		m.stop()
	}
}

// finishLoad replaces the draft with doc, or reports that nothing was
// stored when doc is nil.
func (m *machine) finishLoad(doc *CodeState) {
	m.exec.clear()
	if doc == nil {
		m.notes.info("No recent code found.")
		return
	}
	m.sync.draft.Code = doc.Code
	if protocol.IsSupported(doc.Language) {
		m.sync.draft.Language = doc.Language
	}
	m.notes.success("Recent code loaded.")
}

func (m *machine) clearOutput() {
	m.exec.clear()
}

func (m *machine) analysisRequest() (analysis.Request, error) {
	if m.exec.state.Live() {
		m.notes.fail("Wait for the current execution to finish.")
		return analysis.Request{}, ErrBusy
	}
	draft := m.sync.draft
	if strings.TrimSpace(draft.Code) == "" {
		m.notes.fail("Nothing to analyze.")
		return analysis.Request{}, ErrEmptyCode
	}
	req := analysis.Request{Code: draft.Code, Language: draft.Language}
	if out := m.exec.Output(); strings.TrimSpace(out) != "" {
		req.ExecutionContext = out
	}
	return req, nil
}

func (m *machine) snapshot() Snapshot {
	return Snapshot{
		Connection: m.conn.State(),
		Hydrated:   m.hydrated,
		Draft:      m.sync.draft,
		Synced:     m.sync.synced,
		Dirty:      m.sync.Dirty(),
		Execution:  m.exec.state,
		Output:     m.exec.Output(),
		Chat:       m.chat.messages(),
	}
}
