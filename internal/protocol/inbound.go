package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is wrapped by errors for frames whose type is not
// recognised by the validator.
var ErrUnknownType = errors.New("unknown message type")

// Inbound is a decoded server → client frame. The set of implementations
// is closed; anything the decoder does not recognise becomes Unknown.
type Inbound interface {
	Kind() string
	inbound()
}

type InitialCodeSync struct{ Payload CodePayload }

type CodeSync struct{ Payload CodePayload }

type ChatMessage struct{ Payload ChatPayload }

type CollabUpdate struct{ Text string }

type Output struct{ Data string }

type InputRequest struct{}

type ExecutionStarted struct{}

// ExecutionComplete carries the backend's trailing summary, which may
// embed an "Exit code: N" marker.
type ExecutionComplete struct{ Summary string }

// ExecutionError is a backend-reported error for the current execution.
type ExecutionError struct{ Message string }

type Pong struct{}

// Unknown is a well-formed frame with an unrecognised type.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (InitialCodeSync) Kind() string   { return TypeInitialCodeSync }
func (CodeSync) Kind() string          { return TypeCodeSync }
func (ChatMessage) Kind() string       { return TypeChatMessage }
func (CollabUpdate) Kind() string      { return TypeCollabUpdate }
func (Output) Kind() string            { return TypeOutput }
func (InputRequest) Kind() string      { return TypeInputRequest }
func (ExecutionStarted) Kind() string  { return TypeExecutionStarted }
func (ExecutionComplete) Kind() string { return TypeExecutionComplete }
func (ExecutionError) Kind() string    { return TypeError }
func (Pong) Kind() string              { return TypePong }
func (u Unknown) Kind() string         { return u.Type }

func (InitialCodeSync) inbound()   {}
func (CodeSync) inbound()          {}
func (ChatMessage) inbound()       {}
func (CollabUpdate) inbound()      {}
func (Output) inbound()            {}
func (InputRequest) inbound()      {}
func (ExecutionStarted) inbound()  {}
func (ExecutionComplete) inbound() {}
func (ExecutionError) inbound()    {}
func (Pong) inbound()              {}
func (Unknown) inbound()           {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one raw server frame. Malformed frames return an error and
// must be dropped by the caller without touching any state.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	switch env.Type {
	case TypeInitialCodeSync, TypeCodeSync:
		var p CodePayload
		if err := DecodeObject(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", env.Type, err)
		}
		if env.Type == TypeInitialCodeSync {
			return InitialCodeSync{Payload: p}, nil
		}
		return CodeSync{Payload: p}, nil

	case TypeChatMessage:
		var p ChatPayload
		if err := DecodeObject(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", env.Type, err)
		}
		return ChatMessage{Payload: p}, nil

	case TypeCollabUpdate:
		return CollabUpdate{Text: DecodeText(env.Data)}, nil
	case TypeOutput:
		return Output{Data: DecodeText(env.Data)}, nil
	case TypeInputRequest:
		return InputRequest{}, nil
	case TypeExecutionStarted:
		return ExecutionStarted{}, nil
	case TypeExecutionComplete:
		return ExecutionComplete{Summary: DecodeText(env.Data)}, nil
	case TypeError:
		return ExecutionError{Message: DecodeText(env.Data)}, nil
	case TypePong:
		return Pong{}, nil
	}

	return Unknown{Type: env.Type, Data: env.Data}, nil
}

// DecodeObject unmarshals a "data" field into v. The field may hold the
// object itself or a JSON string containing the encoded object; absent,
// null and empty-string values leave v untouched.
func DecodeObject(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = bytes.TrimSpace([]byte(s))
		if len(raw) == 0 {
			return nil
		}
	}
	return json.Unmarshal(raw, v)
}

// DecodeText returns a "data" field as text. Strings are unquoted, absent
// and null become "", anything else is returned as its JSON source.
func DecodeText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
