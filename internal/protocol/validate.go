package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeJoin:        true,
	TypeSyncCode:    true,
	TypeExecute:     true,
	TypeStop:        true,
	TypeInput:       true,
	TypeChatMessage: true,
	TypePing:        true,
}

// ClientMessage is the union of every client→server frame as seen by the
// backend. Only the fields relevant to Type are meaningful.
type ClientMessage struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Code        string          `json:"code"`
	Language    string          `json:"language"`
	Data        json.RawMessage `json:"data"`

	chat ChatPayload
}

// Chat returns the normalised chat payload of a chat_message frame.
func (m *ClientMessage) Chat() ChatPayload { return m.chat }

// InputText returns the normalised text of an input frame.
func (m *ClientMessage) InputText() string { return DecodeText(m.Data) }

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed message and any validation error.
func ValidateClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
	}

	// Validate required fields per type.
	switch msg.Type {
	case TypeJoin:
		if msg.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s", msg.Type)
		}
		if msg.UserID == "" {
			return nil, fmt.Errorf("missing required field 'userId' in %s", msg.Type)
		}

	case TypeSyncCode:
		if msg.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s", msg.Type)
		}
		if !IsSupported(msg.Language) {
			return nil, fmt.Errorf("unsupported language %q in %s", msg.Language, msg.Type)
		}

	case TypeExecute:
		if msg.Language == "" {
			return nil, fmt.Errorf("missing required field 'language' in %s", msg.Type)
		}

	case TypeChatMessage:
		if msg.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s", msg.Type)
		}
		if err := DecodeObject(msg.Data, &msg.chat); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if strings.TrimSpace(msg.chat.Text) == "" {
			return nil, fmt.Errorf("missing required field 'data.text' in %s", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error frame ready to send to a client.
func NewErrorMessage(message string) ([]byte, error) {
	return NewMessage(TypeError, message)
}
