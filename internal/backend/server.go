// Package backend is a development execution backend speaking the
// collaborative session protocol over WebSocket.
package backend

import (
	"context"
	"net/http"
	"sync"
	"time"

	"codecollab/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow any origin for local development.
	},
}

// Config configures a Server.
type Config struct {
	ChatHistory int
	Runner      RunnerConfig
}

// Server manages WebSocket connections, session rooms and executions.
type Server struct {
	echo   *echo.Echo
	rooms  *Rooms
	runner *Runner
	log    zerolog.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	server *Server
	log    zerolog.Logger

	mu     sync.Mutex
	room   *Room
	userID string
	name   string
	exec   *Execution
}

// New creates a backend server.
func New(cfg Config, log zerolog.Logger) *Server {
	log = log.With().Str("component", "backend").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		rooms:   NewRooms(cfg.ChatHistory),
		runner:  NewRunner(cfg.Runner, log),
		log:     log,
		clients: make(map[*client]bool),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/execute-ws", s.handleWebSocket)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/languages", s.handleLanguages)
	s.echo.GET("/sessions", s.handleListSessions)
	s.echo.GET("/sessions/:id", s.handleGetSession)
}

// Handler returns the HTTP handler with all routes configured.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("backend listening")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops every execution, drops every connection and stops the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.stopExecution()
		c.conn.Close()
	}
	return s.echo.Shutdown(ctx)
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(ec echo.Context) error {
	conn, err := upgrader.Upgrade(ec.Response(), ec.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return nil
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		server: s,
		log:    s.log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue queues a frame for this client, waiting for room in the buffer.
// Frames for a departed client are discarded.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// offer queues a frame without waiting; a full buffer drops it.
func (c *client) offer(msgType string, data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.Warn().Str("type", msgType).Msg("client buffer full, dropping frame")
	}
}

func (c *client) sendMessage(msgType string, data any) {
	raw, err := protocol.NewMessage(msgType, data)
	if err != nil {
		c.log.Error().Err(err).Msg("encode frame")
		return
	}
	c.enqueue(raw)
}

func (c *client) sendError(message string) {
	raw, err := protocol.NewErrorMessage(message)
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// running returns the live execution, if any.
func (c *client) running() *Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exec == nil {
		return nil
	}
	select {
	case <-c.exec.Done():
		return nil
	default:
		return c.exec
	}
}

func (c *client) stopExecution() {
	if e := c.running(); e != nil {
		e.Stop()
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.once.Do(func() { close(c.done) })
	c.stopExecution()

	c.mu.Lock()
	room, name := c.room, c.name
	c.room = nil
	c.mu.Unlock()

	if room != nil {
		s.rooms.Leave(room, c)
		s.broadcastRoom(room, c, protocol.TypeCollabUpdate, name+" left the session")
	}
}

// broadcastRoom sends a frame to every member of room except skip.
// code_sync waits for buffer space until the member departs; other frames
// are dropped when a member's buffer is full.
func (s *Server) broadcastRoom(room *Room, skip *client, msgType string, data any) {
	raw, err := protocol.NewMessage(msgType, data)
	if err != nil {
		s.log.Error().Err(err).Msg("encode broadcast")
		return
	}
	for _, member := range room.memberList() {
		if member == skip {
			continue
		}
		if msgType == protocol.TypeCodeSync {
			member.enqueue(raw)
		} else {
			member.offer(msgType, raw)
		}
	}
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		s.handleJoin(c, msg)
	case protocol.TypeSyncCode:
		s.handleSync(c, msg)
	case protocol.TypeChatMessage:
		s.handleChat(c, msg)
	case protocol.TypeExecute:
		s.handleExecute(c, msg)
	case protocol.TypeInput:
		s.handleInput(c, msg)
	case protocol.TypeStop:
		c.stopExecution()
	case protocol.TypePing:
		c.sendMessage(protocol.TypePong, nil)
	}
}

func (s *Server) handleJoin(c *client, msg *protocol.ClientMessage) {
	name := msg.DisplayName
	if name == "" {
		name = "User"
	}

	c.mu.Lock()
	prev, prevName := c.room, c.name
	c.userID, c.name = msg.UserID, name
	c.mu.Unlock()

	if prev != nil && prev.ID != msg.SessionID {
		s.rooms.Leave(prev, c)
		s.broadcastRoom(prev, c, protocol.TypeCollabUpdate, prevName+" left the session")
	}

	room := s.rooms.Join(msg.SessionID, c, func(r *Room) {
		code, language := r.state()
		c.sendMessage(protocol.TypeInitialCodeSync, protocol.NewCodePayload(code, language))
		for _, chat := range r.history.ReadAll() {
			c.sendMessage(protocol.TypeChatMessage, chat)
		}
	})
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	if prev != room {
		s.broadcastRoom(room, c, protocol.TypeCollabUpdate, name+" joined the session")
	}

	c.log.Info().Str("session", room.ID).Str("user", msg.UserID).Msg("joined")
}

// joined returns the client's room if it matches sessionID.
func (c *client) joined(sessionID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil || c.room.ID != sessionID {
		return nil
	}
	return c.room
}

func (s *Server) handleSync(c *client, msg *protocol.ClientMessage) {
	room := c.joined(msg.SessionID)
	if room == nil {
		c.sendError("join the session before syncing code")
		return
	}
	room.publish(
		func() { room.setState(msg.Code, msg.Language) },
		func() {
			s.broadcastRoom(room, nil, protocol.TypeCodeSync, protocol.NewCodePayload(msg.Code, msg.Language))
		},
	)
}

func (s *Server) handleChat(c *client, msg *protocol.ClientMessage) {
	room := c.joined(msg.SessionID)
	if room == nil {
		c.sendError("join the session before chatting")
		return
	}
	chat := msg.Chat()
	room.publish(
		func() { room.history.Write(chat) },
		func() { s.broadcastRoom(room, nil, protocol.TypeChatMessage, chat) },
	)
}

func (s *Server) handleExecute(c *client, msg *protocol.ClientMessage) {
	if c.running() != nil {
		c.sendError("an execution is already in progress")
		return
	}

	e, err := s.runner.Start(msg.Language, msg.Code, clientSink{c})
	if err != nil {
		c.log.Warn().Err(err).Str("language", msg.Language).Msg("execution failed to start")
		c.sendError(err.Error())
		return
	}

	c.mu.Lock()
	c.exec = e
	c.mu.Unlock()
}

func (s *Server) handleInput(c *client, msg *protocol.ClientMessage) {
	e := c.running()
	if e == nil {
		c.sendError("no execution is running")
		return
	}
	if err := e.Input(msg.InputText()); err != nil {
		c.sendError("failed to deliver input: " + err.Error())
	}
}

// clientSink streams an execution's lifecycle to its client.
type clientSink struct{ c *client }

func (s clientSink) Started()            { s.c.sendMessage(protocol.TypeExecutionStarted, nil) }
func (s clientSink) Output(chunk string) { s.c.sendMessage(protocol.TypeOutput, chunk) }
func (s clientSink) InputRequest()       { s.c.sendMessage(protocol.TypeInputRequest, nil) }
func (s clientSink) Complete(summary string) {
	s.c.sendMessage(protocol.TypeExecutionComplete, summary)
}
func (s clientSink) Error(message string) { s.c.sendMessage(protocol.TypeError, message) }
