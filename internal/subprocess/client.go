// Package subprocess owns a spawned child process that speaks
// line-delimited JSON-RPC 2.0 over stdin/stdout (see spec §4.2).
package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/titan/ralph-orchestrator/internal/protocol"
	"github.com/titan/ralph-orchestrator/internal/rpcerr"
)

// NotificationHandler is invoked for every inbound notification, in
// registration order. Handlers must not block the reader loop; long work
// should be dispatched to its own goroutine.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler serves an inbound agent->host request and returns either
// a result to send back, or an error (which becomes a JSON-RPC error
// response). At most one may be registered.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// maxConcurrentHandlers bounds how many inbound-request handlers may run
// at once so a single blocking handler (e.g. terminal/wait_for_exit) can
// never starve the reader loop of goroutine scheduling headroom.
const maxConcurrentHandlers = 8

type pendingRequest struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// Client owns one child process and a single background reader that
// demultiplexes its stdout (the child's stderr is not read); inbound
// request handlers run on a bounded worker pool, never inline in the
// reader.
type Client struct {
	command string
	args    []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	idGen   protocol.IDGenerator

	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest

	notifMu  sync.Mutex
	notifHdl []NotificationHandler
	reqHdl   RequestHandler

	sem *semaphore.Weighted

	readerDone chan struct{}

	stateMu sync.Mutex
	running bool
}

// New creates an unstarted client for the given command and arguments.
func New(command string, args []string) *Client {
	return &Client{
		command: command,
		args:    args,
		pending: make(map[int64]*pendingRequest),
		sem:     semaphore.NewWeighted(maxConcurrentHandlers),
	}
}

// Start spawns the child process and launches the background reader.
func (c *Client) Start(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.running {
		return rpcerr.New(rpcerr.AlreadyRunning, "subprocess client already running")
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return rpcerr.Wrap(rpcerr.SpawnFailure, "creating stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return rpcerr.Wrap(rpcerr.SpawnFailure, "creating stdout pipe", err)
	}
	cmd.Stderr = nil // caller wires stderr separately if it wants masked logging

	if err := cmd.Start(); err != nil {
		return rpcerr.Wrap(rpcerr.SpawnFailure, fmt.Sprintf("spawning %s", c.command), err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.running = true
	c.readerDone = make(chan struct{})

	go c.readLoop()

	return nil
}

// SendRequest allocates the next id, writes the frame, and blocks until
// the matching response or error arrives or ctx is done (a Timeout error);
// the pending entry is NOT removed on a caller-side timeout — only a
// matching response/error, or Stop(), removes it.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.stateMu.Lock()
	running := c.running
	c.stateMu.Unlock()
	if !running {
		return nil, rpcerr.New(rpcerr.NotRunning, "subprocess is not running")
	}

	id := c.idGen.Next()
	frame, err := protocol.EncodeRequest(id, method, params)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ProtocolFailure, "encoding request", err)
	}

	pr := &pendingRequest{
		resultCh: make(chan json.RawMessage, 1),
		errCh:    make(chan error, 1),
	}
	c.pendingMu.Lock()
	c.pending[id] = pr
	c.pendingMu.Unlock()

	if err := c.write(frame); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, rpcerr.Wrap(rpcerr.NotRunning, "writing request", err)
	}

	select {
	case <-ctx.Done():
		return nil, rpcerr.Wrap(rpcerr.Timeout, method, ctx.Err())
	case result := <-pr.resultCh:
		return result, nil
	case err := <-pr.errCh:
		return nil, err
	}
}

// SendNotification writes a notification frame; there is no pending entry
// and no response is expected.
func (c *Client) SendNotification(method string, params any) error {
	c.stateMu.Lock()
	running := c.running
	c.stateMu.Unlock()
	if !running {
		return rpcerr.New(rpcerr.NotRunning, "subprocess is not running")
	}

	frame, err := protocol.EncodeNotification(method, params)
	if err != nil {
		return rpcerr.Wrap(rpcerr.ProtocolFailure, "encoding notification", err)
	}
	return c.write(frame)
}

// OnNotification registers a handler invoked for every inbound
// notification, in registration order. Multiple handlers may be
// registered.
func (c *Client) OnNotification(h NotificationHandler) {
	c.notifMu.Lock()
	defer c.notifMu.Unlock()
	c.notifHdl = append(c.notifHdl, h)
}

// OnRequest registers the single handler for inbound agent->host requests.
func (c *Client) OnRequest(h RequestHandler) {
	c.notifMu.Lock()
	defer c.notifMu.Unlock()
	c.reqHdl = h
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return fmt.Errorf("stdin not available")
	}
	_, err := c.stdin.Write(frame)
	return err
}

// readLoop splits stdout on newlines and routes each frame. It never
// blocks on handler work beyond acquiring the bounded semaphore.
func (c *Client) readLoop() {
	defer close(c.readerDone)

	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...) // copy: scanner reuses its buffer
		if len(line) == 0 {
			continue
		}
		c.route(line)
	}
}

func (c *Client) route(line []byte) {
	msg := protocol.Parse(line)

	switch msg.Kind {
	case protocol.KindResponse, protocol.KindError:
		c.resolvePending(msg)

	case protocol.KindNotification:
		c.notifMu.Lock()
		handlers := append([]NotificationHandler(nil), c.notifHdl...)
		c.notifMu.Unlock()
		for _, h := range handlers {
			h(msg.Method, msg.Params)
		}

	case protocol.KindRequest:
		c.dispatchRequest(msg)

	case protocol.KindParseError, protocol.KindInvalid:
		// Malformed input never crashes the reader. Such frames are
		// dropped: no error reply is sent, even when the frame carried an
		// id, and nothing is logged.
	}
}

func (c *Client) resolvePending(msg protocol.Message) {
	c.pendingMu.Lock()
	pr, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if msg.Kind == protocol.KindError {
		pr.errCh <- rpcerr.NewApplication(msg.Error.Code, msg.Error.Message)
		return
	}
	pr.resultCh <- msg.Result
}

func (c *Client) dispatchRequest(msg protocol.Message) {
	c.notifMu.Lock()
	handler := c.reqHdl
	c.notifMu.Unlock()

	if handler == nil {
		c.replyError(msg.ID, protocol.ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method))
		return
	}

	if err := c.sem.Acquire(context.Background(), 1); err != nil {
		c.replyError(msg.ID, protocol.ErrCodeInternalError, "handler dispatch failed")
		return
	}

	go func() {
		defer c.sem.Release(1)

		result, err := handler(context.Background(), msg.Method, msg.Params)
		if err != nil {
			if rpcErr, ok := err.(*protocol.RPCError); ok {
				c.replyError(msg.ID, rpcErr.Code, rpcErr.Message)
				return
			}
			if appErr, ok := err.(*rpcerr.Error); ok && appErr.Kind == rpcerr.Application {
				c.replyError(msg.ID, appErr.Code, appErr.Msg)
				return
			}
			c.replyError(msg.ID, protocol.ErrCodeInternalError, err.Error())
			return
		}

		frame, err := protocol.EncodeResponse(msg.ID, result)
		if err != nil {
			c.replyError(msg.ID, protocol.ErrCodeInternalError, "encoding response")
			return
		}
		_ = c.write(frame)
	}()
}

func (c *Client) replyError(id int64, code int, message string) {
	frame, err := protocol.EncodeError(id, &protocol.RPCError{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = c.write(frame)
}

// Stop closes stdin, terminates the child (SIGTERM then SIGKILL after a
// 2s grace period), and drains all outstanding pending requests with a
// Shutdown error so blocked callers unblock. Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	c.stateMu.Lock()
	if !c.running {
		c.stateMu.Unlock()
		return nil
	}
	c.running = false
	cmd := c.cmd
	stdin := c.stdin
	c.stateMu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	if cmd != nil && cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
		}
	}

	c.drainPending()
	return nil
}

func (c *Client) drainPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, pr := range c.pending {
		pr.errCh <- rpcerr.New(rpcerr.Shutdown, "subprocess client shut down")
		delete(c.pending, id)
	}
}

// Wait blocks until the reader loop has exited (the child's stdout closed).
func (c *Client) Wait() {
	c.stateMu.Lock()
	done := c.readerDone
	c.stateMu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the client currently believes its child is alive.
func (c *Client) Running() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.running
}
