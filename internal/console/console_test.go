package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColorFormatter_WritesExpectedText(t *testing.T) {
	color.NoColor = true // deterministic output regardless of TTY detection

	var buf bytes.Buffer
	f := NewWithWriter(&buf)

	f.Header("ACP AGENT (gemini)")
	f.Status("Processing prompt...")
	f.Success("Agent completed (tools: 2)")
	f.Error("boom")
	f.Info("  - key: value")
	f.Message("hello")
	f.Separator()

	out := buf.String()
	assert.True(t, strings.Contains(out, "ACP AGENT (gemini)"))
	assert.True(t, strings.Contains(out, "Processing prompt..."))
	assert.True(t, strings.Contains(out, "Agent completed"))
	assert.True(t, strings.Contains(out, "boom"))
	assert.True(t, strings.Contains(out, "hello"))
	assert.True(t, strings.Contains(out, "----"))
}

func TestNoOpFormatter_DoesNothing(t *testing.T) {
	var f NoOpFormatter
	f.Header("x")
	f.Status("x")
	f.Success("x")
	f.Error("x")
	f.Info("x")
	f.Message("x")
	f.Thought("x")
	f.Separator()
}
