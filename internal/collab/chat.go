package collab

import "codecollab/internal/protocol"

// ChatMessage is one received chat line. Order is the order of arrival
// on this client; there is no server timestamp.
type ChatMessage struct {
	SenderID     string `json:"senderId"`
	DisplayName  string `json:"displayName"`
	Text         string `json:"text"`
	ArrivalOrder int    `json:"arrivalOrder"`
}

// chatLog is append-only for the lifetime of an attachment.
type chatLog struct {
	entries []ChatMessage
}

func (l *chatLog) append(p protocol.ChatPayload) ChatMessage {
	name := p.DisplayName
	if name == "" {
		name = "User"
	}
	msg := ChatMessage{
		SenderID:     p.UserID,
		DisplayName:  name,
		Text:         p.Text,
		ArrivalOrder: len(l.entries),
	}
	l.entries = append(l.entries, msg)
	return msg
}

func (l *chatLog) messages() []ChatMessage {
	out := make([]ChatMessage, len(l.entries))
	copy(out, l.entries)
	return out
}
