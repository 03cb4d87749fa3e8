package collab

import (
	"errors"
	"strings"
)

// Identity is the participant's self-asserted identity for one session
// attachment. It is supplied by the caller and never negotiated.
type Identity struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
	Email         string
	Anonymous     bool
}

// Name is the display name sent on the wire: DisplayName, else the local
// part of Email, else "User".
func (id Identity) Name() string {
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(id.Email, "@"); local != "" {
		return local
	}
	return "User"
}

func (id Identity) validate() error {
	if id.SessionID == "" {
		return errors.New("session id is required")
	}
	if id.ParticipantID == "" {
		return errors.New("participant id is required")
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
