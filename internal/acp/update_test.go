package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUpdate_Flat(t *testing.T) {
	raw := json.RawMessage(`{"kind":"agent_message_chunk","content":"hello"}`)
	p := normalizeUpdate(raw)
	assert.Equal(t, "agent_message_chunk", p.Kind)
	assert.Equal(t, "hello", p.Content)
}

func TestNormalizeUpdate_Nested(t *testing.T) {
	raw := json.RawMessage(`{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":"hi there"}}}`)
	p := normalizeUpdate(raw)
	assert.Equal(t, "agent_message_chunk", p.Kind)
	assert.Equal(t, "hi there", p.Content)
}

func TestNormalizeUpdate_Nested_ToolCall(t *testing.T) {
	raw := json.RawMessage(`{"update":{"sessionUpdate":"tool_call","toolName":"grep","toolCallId":"abc123"}}`)
	p := normalizeUpdate(raw)
	assert.Equal(t, "tool_call", p.Kind)
	assert.Equal(t, "grep", p.ToolName)
	assert.Equal(t, "abc123", p.ToolCallID)
}

func TestNormalizeUpdate_Flat_ToolCallUpdate(t *testing.T) {
	raw := json.RawMessage(`{"kind":"tool_call_update","toolCallId":"abc123","status":"completed","result":"ok"}`)
	p := normalizeUpdate(raw)
	assert.Equal(t, "tool_call_update", p.Kind)
	assert.Equal(t, "completed", p.Status)
	assert.Equal(t, "ok", p.Result)
}

func TestNormalizeUpdate_Malformed(t *testing.T) {
	p := normalizeUpdate(json.RawMessage(`not json`))
	assert.Equal(t, "", p.Kind)
}
