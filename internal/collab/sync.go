package collab

import "codecollab/internal/protocol"

// Placeholder is the editor content shown until the session hydrates.
const Placeholder = "// Connecting..."

// CodeState is one (code, language) pair.
type CodeState struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// SyncState tracks the local draft against the last confirmed shared
// state. The draft is dirty whenever it differs from synced in either
// field.
type SyncState struct {
	draft  CodeState
	synced CodeState
}

func newSyncState() SyncState {
	var s SyncState
	s.reset()
	return s
}

// reset puts both copies back to the pre-hydration placeholder.
func (s *SyncState) reset() {
	s.synced = CodeState{Code: Placeholder, Language: protocol.DefaultLanguage}
	s.draft = s.synced
}

// hydrate adopts the join reply. Missing fields become an empty buffer
// and the default language.
func (s *SyncState) hydrate(p protocol.CodePayload) CodeState {
	next := CodeState{Language: protocol.DefaultLanguage}
	if p.Code != nil {
		next.Code = *p.Code
	}
	if p.Language != nil && *p.Language != "" {
		next.Language = *p.Language
	}
	s.synced = next
	s.draft = next
	return next
}

// applyRemote adopts a broadcast shared state, discarding unpushed local
// edits. Missing fields keep the current synced value.
func (s *SyncState) applyRemote(p protocol.CodePayload) CodeState {
	next := s.synced
	if p.Code != nil {
		next.Code = *p.Code
	}
	if p.Language != nil && *p.Language != "" {
		next.Language = *p.Language
	}
	s.synced = next
	s.draft = next
	return next
}

// commit records a successful push of the draft.
func (s *SyncState) commit() CodeState {
	s.synced = s.draft
	return s.synced
}

func (s *SyncState) Draft() CodeState  { return s.draft }
func (s *SyncState) Synced() CodeState { return s.synced }
func (s *SyncState) Dirty() bool       { return s.draft != s.synced }
