package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"codecollab/internal/protocol"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultDialTimeout       = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Send when no socket is open. Outbound
	// messages are never queued.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: closed")
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind distinguishes the socket lifecycle events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
)

// Event is delivered to the Handler for every socket lifecycle change and
// every inbound frame.
type Event struct {
	Kind   EventKind
	Data   []byte // EventMessage
	Code   int    // EventClose
	Reason string // EventClose
	Err    error  // EventError
}

// CloseNormalClosure is the code sent by Close.
const CloseNormalClosure = websocket.CloseNormalClosure

// IsNormalClosure reports whether a close code suppresses auto-reconnect.
func IsNormalClosure(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}

// Socket is the subset of *websocket.Conn used by Conn.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Conn. Zero values take the documented defaults.
type Options struct {
	URL     string
	Dialer  Dialer
	Clock   Clock
	Handler func(Event)
	Logger  zerolog.Logger

	// Backoff yields the delay before each reconnect attempt. It is reset
	// on every successful open. Default: constant ReconnectDelay.
	Backoff        backoff.BackOff
	ReconnectDelay time.Duration

	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	DialTimeout       time.Duration
}

// Conn owns the single socket of a session attachment. It never holds more
// than one socket open or opening, keeps at most one reconnect pending, and
// sends a ping every HeartbeatInterval while connected.
type Conn struct {
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	state     State
	sock      Socket
	reconnect Timer
	heartbeat Timer
	closed    bool

	writeMu sync.Mutex
}

// New creates a Conn. Nothing is dialled until Connect.
func New(opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Handler == nil {
		opts.Handler = func(Event) {}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewConstantBackOff(opts.ReconnectDelay)
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Conn{
		opts: opts,
		log:  opts.Logger.With().Str("component", "transport").Logger(),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectPending reports whether a reconnect timer is scheduled.
func (c *Conn) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect != nil
}

// Connect opens a socket unless one is already open or opening, and starts
// the heartbeat. Dialling happens in the background; the outcome arrives
// as EventOpen or EventError.
func (c *Conn) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.startHeartbeatLocked()
	c.connectLocked()
}

func (c *Conn) connectLocked() {
	c.cancelReconnectLocked()
	if c.state != Disconnected {
		return
	}
	c.state = Connecting
	c.log.Info().Str("url", c.opts.URL).Msg("connecting")
	go c.dial()
}

func (c *Conn) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	sock, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		return
	}
	if err != nil {
		c.state = Disconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()

		c.log.Warn().Err(err).Str("url", c.opts.URL).Msg("dial failed")
		c.opts.Handler(Event{Kind: EventError, Err: err})
		return
	}

	c.sock = sock
	c.state = Connected
	c.cancelReconnectLocked()
	c.opts.Backoff.Reset()
	c.mu.Unlock()

	c.log.Info().Msg("connected")
	c.opts.Handler(Event{Kind: EventOpen})
	go c.readPump(sock)
}

// readPump reads frames until the socket fails.
func (c *Conn) readPump(sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			c.lost(sock, code, reason)
			return
		}
		c.opts.Handler(Event{Kind: EventMessage, Data: data})
	}
}

// lost retires sock after a read failure. Sockets that
// were already replaced or closed locally are ignored.
func (c *Conn) lost(sock Socket, code int, reason string) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.socketClosedLocked(code)
	c.mu.Unlock()

	sock.Close()
	if IsNormalClosure(code) {
		c.log.Info().Int("code", code).Str("reason", reason).Msg("connection closed")
	} else {
		c.log.Warn().Int("code", code).Str("reason", reason).Msg("connection lost")
	}
	c.opts.Handler(Event{Kind: EventClose, Code: code, Reason: reason})
}

// socketClosedLocked applies the close policy: abnormal codes schedule a
// reconnect, normal-closure and going-away do not.
func (c *Conn) socketClosedLocked(code int) {
	c.sock = nil
	c.state = Disconnected
	if !IsNormalClosure(code) {
		c.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending
// or a dial is in flight.
func (c *Conn) scheduleReconnectLocked() {
	if c.closed || c.reconnect != nil || c.state == Connecting {
		return
	}
	delay := c.opts.Backoff.NextBackOff()
	if delay == backoff.Stop {
		c.log.Error().Msg("reconnect budget exhausted")
		return
	}
	c.log.Debug().Dur("delay", delay).Msg("reconnect scheduled")
	c.reconnect = c.opts.Clock.AfterFunc(delay, c.fireReconnect)
}

func (c *Conn) fireReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = nil
	if c.closed {
		return
	}
	c.connectLocked()
}

func (c *Conn) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Conn) startHeartbeatLocked() {
	if c.heartbeat != nil || c.opts.HeartbeatInterval < 0 {
		return
	}
	c.heartbeat = c.opts.Clock.AfterFunc(c.opts.HeartbeatInterval, c.beat)
}

// beat pings while connected and reconnects immediately when it finds the
// connection down with nothing pending.
func (c *Conn) beat() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.heartbeat = c.opts.Clock.AfterFunc(c.opts.HeartbeatInterval, c.beat)
	state := c.state
	if state == Disconnected && c.reconnect == nil {
		c.log.Debug().Msg("heartbeat found connection down")
		c.connectLocked()
	}
	c.mu.Unlock()

	if state == Connected {
		if err := c.Send(protocol.NewPing()); err != nil {
			c.log.Warn().Err(err).Msg("heartbeat failed")
		}
	}
}

// Send encodes v as JSON and writes it to the socket. It fails with
// ErrNotConnected, after logging, when the socket is not open. Send never
// calls the Handler.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.mu.Lock()
	sock, state, closed := c.sock, c.state, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if state != Connected || sock == nil {
		c.log.Warn().Str("state", state.String()).Msg("dropping outbound message: not connected")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	sock.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err = sock.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		// The read pump reports the loss once its pending read fails.
		c.log.Warn().Err(err).Msg("write failed, closing socket")
		sock.Close()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close performs a normal-closure shutdown: the heartbeat and any pending
// reconnect are cancelled and no further reconnects happen. Safe to call
// more than once.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelReconnectLocked()
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	sock, prev := c.sock, c.state
	c.sock = nil
	c.state = Disconnected
	c.mu.Unlock()

	if sock == nil {
		return nil
	}

	c.writeMu.Lock()
	sock.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	c.writeMu.Unlock()

	err := sock.Close()
	c.log.Info().Str("reason", reason).Msg("connection closed")
	if prev == Connected {
		c.opts.Handler(Event{Kind: EventClose, Code: websocket.CloseNormalClosure, Reason: reason})
	}
	return err
}

// closeStatus extracts the close code from a read error. Anything that is
// not a close frame counts as an abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
