package acp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_ProcessUpdate_AccumulatesOutput(t *testing.T) {
	s := NewSession("sess-1")
	s.ProcessUpdate(UpdatePayload{Kind: "agent_message_chunk", Content: "hello "})
	s.ProcessUpdate(UpdatePayload{Kind: "agent_message_chunk", Content: "world"})
	assert.Equal(t, "hello world", s.Output())
}

func TestSession_ProcessUpdate_Thoughts(t *testing.T) {
	s := NewSession("sess-1")
	s.ProcessUpdate(UpdatePayload{Kind: "agent_thought_chunk", Content: "thinking..."})
	assert.Equal(t, []string{"thinking..."}, s.Thoughts())
}

func TestSession_ProcessUpdate_ToolCallLifecycle(t *testing.T) {
	s := NewSession("sess-1")
	s.ProcessUpdate(UpdatePayload{Kind: "tool_call", ToolCallID: "t1", ToolName: "grep"})
	s.ProcessUpdate(UpdatePayload{Kind: "tool_call_update", ToolCallID: "t1", Status: "completed", Result: "3 matches"})

	calls := s.ToolCalls()
	assert.Len(t, calls, 1)
	assert.Equal(t, "t1", calls[0].ID)
	assert.Equal(t, "grep", calls[0].Name)
	assert.Equal(t, "completed", calls[0].Status)
	assert.Equal(t, "3 matches", calls[0].Result)
}

func TestSession_ProcessUpdate_UpdateBeforeCreate(t *testing.T) {
	s := NewSession("sess-1")
	s.ProcessUpdate(UpdatePayload{Kind: "tool_call_update", ToolCallID: "t2", Status: "failed", Error: "boom"})

	calls := s.ToolCalls()
	assert.Len(t, calls, 1)
	assert.Equal(t, "failed", calls[0].Status)
	assert.Equal(t, "boom", calls[0].Error)
}

func TestSession_Reset_ClearsStateKeepsID(t *testing.T) {
	s := NewSession("sess-1")
	s.ProcessUpdate(UpdatePayload{Kind: "agent_message_chunk", Content: "hi"})
	s.ProcessUpdate(UpdatePayload{Kind: "tool_call", ToolCallID: "t1"})

	s.Reset()

	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "", s.Output())
	assert.Empty(t, s.Thoughts())
	assert.Empty(t, s.ToolCalls())
}
