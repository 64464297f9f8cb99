package subprocess

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServerScript reads one JSON-RPC request line and replies with a
// trivial result, used to exercise the client against a real child
// process without depending on any real agent binary.
const echoServerScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    printf '{"jsonrpc":"2.0","id":%s,"result":{"echo":true}}\n' "$id"
  fi
done
`

func startEchoClient(t *testing.T) *Client {
	t.Helper()
	c := New("sh", []string{"-c", echoServerScript})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		_ = c.Stop(context.Background())
	})
	return c
}

func TestClient_SendRequest_ResolvesFuture(t *testing.T) {
	c := startEchoClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.SendRequest(ctx, "ping", map[string]any{})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, true, decoded["echo"])
}

func TestClient_StartTwice_AlreadyRunning(t *testing.T) {
	c := startEchoClient(t)
	err := c.Start(context.Background())
	require.Error(t, err)
}

func TestClient_SendRequest_NotRunning(t *testing.T) {
	c := New("sh", []string{"-c", echoServerScript})
	_, err := c.SendRequest(context.Background(), "ping", nil)
	require.Error(t, err)
}

func TestClient_Stop_DrainsPending(t *testing.T) {
	// A child that never responds, to force the pending future to be
	// drained by Stop() rather than resolved normally.
	c := New("sh", []string{"-c", "sleep 5"})
	require.NoError(t, c.Start(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := c.SendRequest(ctx, "ping", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pending request was never drained by Stop()")
	}
}

func TestClient_Stop_Idempotent(t *testing.T) {
	c := startEchoClient(t)
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}
