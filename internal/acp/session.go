package acp

import (
	"strings"
	"sync"
)

// ToolCallRecord is a single tracked tool_call/tool_call_update pair,
// keyed by ToolCallID.
type ToolCallRecord struct {
	ID     string
	Name   string
	Status string
	Result any
	Error  string
}

// Session accumulates everything streamed through session/update
// notifications for the lifetime of one session/prompt call.
type Session struct {
	ID string

	mu        sync.Mutex
	output    strings.Builder
	thoughts  []string
	toolCalls map[string]*ToolCallRecord
	order     []string
}

// NewSession returns an empty session state tracker for sessionID.
func NewSession(sessionID string) *Session {
	return &Session{ID: sessionID, toolCalls: make(map[string]*ToolCallRecord)}
}

// ProcessUpdate folds one normalized update into the session's state.
func (s *Session) ProcessUpdate(p UpdatePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.Kind {
	case "agent_message_chunk":
		s.output.WriteString(p.Content)
	case "agent_thought_chunk":
		if p.Content != "" {
			s.thoughts = append(s.thoughts, p.Content)
		}
	case "tool_call":
		id := p.ToolCallID
		if _, exists := s.toolCalls[id]; !exists {
			s.order = append(s.order, id)
		}
		s.toolCalls[id] = &ToolCallRecord{ID: id, Name: p.ToolName, Status: "running"}
	case "tool_call_update":
		rec, ok := s.toolCalls[p.ToolCallID]
		if !ok {
			rec = &ToolCallRecord{ID: p.ToolCallID}
			s.toolCalls[p.ToolCallID] = rec
			s.order = append(s.order, p.ToolCallID)
		}
		rec.Status = p.Status
		rec.Result = p.Result
		rec.Error = p.Error
	}
}

// Output returns the accumulated agent message text.
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// Thoughts returns the accumulated reasoning chunks.
func (s *Session) Thoughts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.thoughts))
	copy(out, s.thoughts)
	return out
}

// ToolCalls returns the recorded tool calls in first-seen order.
func (s *Session) ToolCalls() []ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolCallRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.toolCalls[id])
	}
	return out
}

// Reset clears all accumulated state for a fresh session/prompt call while
// preserving the session ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output.Reset()
	s.thoughts = nil
	s.toolCalls = make(map[string]*ToolCallRecord)
	s.order = nil
}
