package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → Server message types.
const (
	TypeJoin        = "join_collab_session"
	TypeSyncCode    = "sync_code"
	TypeExecute     = "execute"
	TypeStop        = "stop"
	TypeInput       = "input"
	TypeChatMessage = "chat_message"
	TypePing        = "ping"
)

// Server → Client message types.
const (
	TypeInitialCodeSync   = "initial_code_sync"
	TypeCodeSync          = "code_sync"
	TypeCollabUpdate      = "collab_update"
	TypeOutput            = "output"
	TypeInputRequest      = "input_request"
	TypeExecutionStarted  = "execution_started"
	TypeExecutionComplete = "execution_complete"
	TypeError             = "error"
	TypePong              = "pong"
)

// Client → Server frames. Every frame is a flat JSON object carrying its
// own "type" field.

type Join struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type SyncCode struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	UserID    string `json:"userId"`
}

type Execute struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

type Input struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type Chat struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Data      ChatPayload `json:"data"`
}

// Bare is a frame with no payload (stop, ping, and the server's
// input_request, execution_started, pong).
type Bare struct {
	Type string `json:"type"`
}

// ChatPayload is the body of a chat_message in both directions.
type ChatPayload struct {
	Text        string `json:"text"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// CodePayload is the body of initial_code_sync and code_sync. Nil fields
// were absent on the wire.
type CodePayload struct {
	Code     *string `json:"code,omitempty"`
	Language *string `json:"language,omitempty"`
}

// NewCodePayload builds a fully populated CodePayload.
func NewCodePayload(code, language string) CodePayload {
	return CodePayload{Code: &code, Language: &language}
}

func NewJoin(sessionID, userID, displayName string) Join {
	return Join{Type: TypeJoin, SessionID: sessionID, UserID: userID, DisplayName: displayName}
}

func NewSyncCode(sessionID, code, language, userID string) SyncCode {
	return SyncCode{Type: TypeSyncCode, SessionID: sessionID, Code: code, Language: language, UserID: userID}
}

func NewExecute(language, code string) Execute {
	return Execute{Type: TypeExecute, Language: language, Code: code}
}

func NewInput(data string) Input {
	return Input{Type: TypeInput, Data: data}
}

func NewChat(sessionID string, payload ChatPayload) Chat {
	return Chat{Type: TypeChatMessage, SessionID: sessionID, Data: payload}
}

func NewStop() Bare { return Bare{Type: TypeStop} }

func NewPing() Bare { return Bare{Type: TypePing} }

// ServerMessage is the envelope the backend writes to clients.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewMessage encodes a server-originated frame.
func NewMessage(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(ServerMessage{Type: msgType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return raw, nil
}
