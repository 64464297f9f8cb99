package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalTable_CreateAndWaitForExit(t *testing.T) {
	tt := NewTerminalTable()

	created, err := tt.Create(CreateTerminalParams{Command: "sh", Args: []string{"-c", "echo hello"}})
	require.NoError(t, err)
	require.NotEmpty(t, created.TerminalID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exit, err := tt.WaitForExit(ctx, created.TerminalID)
	require.NoError(t, err)
	assert.Equal(t, 0, exit.ExitCode)

	out, err := tt.Output(created.TerminalID)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.Output, "hello"))
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
}

func TestTerminalTable_Output_WhileRunning(t *testing.T) {
	tt := NewTerminalTable()
	created, err := tt.Create(CreateTerminalParams{Command: "sh", Args: []string{"-c", "sleep 2"}})
	require.NoError(t, err)

	out, err := tt.Output(created.TerminalID)
	require.NoError(t, err)
	assert.Nil(t, out.ExitCode)

	require.NoError(t, tt.Release(created.TerminalID))
}

func TestTerminalTable_Kill(t *testing.T) {
	tt := NewTerminalTable()
	created, err := tt.Create(CreateTerminalParams{Command: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	require.NoError(t, tt.Kill(created.TerminalID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exit, err := tt.WaitForExit(ctx, created.TerminalID)
	require.NoError(t, err)
	assert.NotEqual(t, 0, exit.ExitCode)
}

func TestTerminalTable_Output_UnknownID(t *testing.T) {
	tt := NewTerminalTable()
	_, err := tt.Output("does-not-exist")
	require.Error(t, err)
}

func TestTerminalTable_Release_RemovesEntry(t *testing.T) {
	tt := NewTerminalTable()
	created, err := tt.Create(CreateTerminalParams{Command: "sh", Args: []string{"-c", "echo hi"}})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, tt.Release(created.TerminalID))

	_, err = tt.Output(created.TerminalID)
	require.Error(t, err)
}
