package acp

import "encoding/json"

// UpdatePayload is the normalized shape of a session/update notification,
// regardless of which wire format the agent sent it in.
type UpdatePayload struct {
	Kind       string         `json:"kind"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Status     string         `json:"status,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// normalizeUpdate accepts either the flat wire shape
// ({"kind":"agent_message_chunk","content":"..."}) or the nested shape some
// agents (Gemini) send ({"update":{"sessionUpdate":"...","content":{...}}})
// and produces a single normalized UpdatePayload.
func normalizeUpdate(raw json.RawMessage) UpdatePayload {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return UpdatePayload{}
	}

	if nested, ok := generic["update"].(map[string]any); ok {
		return normalizeNested(nested)
	}
	return normalizeFlat(generic)
}

func normalizeFlat(generic map[string]any) UpdatePayload {
	p := UpdatePayload{
		Kind:       stringField(generic, "kind"),
		Content:    stringField(generic, "content"),
		ToolName:   stringField(generic, "toolName"),
		ToolCallID: stringField(generic, "toolCallId"),
		Status:     stringField(generic, "status"),
		Error:      stringField(generic, "error"),
	}
	if args, ok := generic["arguments"].(map[string]any); ok {
		p.Arguments = args
	}
	if result, ok := generic["result"]; ok {
		p.Result = result
	}
	return p
}

func normalizeNested(update map[string]any) UpdatePayload {
	kind := stringField(update, "sessionUpdate")

	var content string
	switch c := update["content"].(type) {
	case map[string]any:
		content = stringField(c, "text")
	case string:
		content = c
	}

	p := UpdatePayload{Kind: kind, Content: content}
	for _, key := range []string{"toolName", "toolCallId", "status", "error"} {
		if v, ok := update[key].(string); ok {
			switch key {
			case "toolName":
				p.ToolName = v
			case "toolCallId":
				p.ToolCallID = v
			case "status":
				p.Status = v
			case "error":
				p.Error = v
			}
		}
	}
	if args, ok := update["arguments"].(map[string]any); ok {
		p.Arguments = args
	}
	if result, ok := update["result"]; ok {
		p.Result = result
	}
	return p
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
