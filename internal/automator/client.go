// Copyright 2025 Joseph Cumines

// Package automator is a client for the mini-program developer tool automation
// endpoint. Requests and push events are JSON messages exchanged over a WebSocket.
//
// Failures are reported as gRPC status errors so callers can branch on codes:
//   - codes.Unavailable: the endpoint could not be reached or the connection dropped
//   - codes.DeadlineExceeded: a call or connection attempt timed out
//   - codes.Unknown: the endpoint rejected the call
package automator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCallTimeout bounds a single call when the caller's context has no deadline.
const DefaultCallTimeout = 30 * time.Second

// Client is a Session backed by a WebSocket connection to the automation endpoint.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Client struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	pending     map[string]chan *message
	handlers    map[string][]func(Event)
	done        chan struct{}
	endpoint    string
	callTimeout time.Duration
	mu          sync.Mutex
	writeMu     sync.Mutex
	closeOnce   sync.Once
	logEnabled  bool
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type request struct {
	Params any    `json:"params"`
	ID     string `json:"id"`
	Method string `json:"method"`
}

// message is either a response (ID set) or an event (Method set).
type message struct {
	Error  *remoteError    `json:"error,omitempty"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type remoteError struct {
	Message string `json:"message"`
}

// eventMethods maps wire event names to Session event kinds.
var eventMethods = map[string]string{
	"App.logAdded":        EventConsole,
	"App.exceptionThrown": EventException,
	"App.bindingCalled":   EventBindingCalled,
}

// Connect dials the automation endpoint, e.g. ws://localhost:9420.
func Connect(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:    endpoint,
		logger:      slog.Default(),
		pending:     make(map[string]chan *message),
		handlers:    make(map[string][]func(Event)),
		done:        make(chan struct{}),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, status.FromContextError(ctxErr).Err()
		}
		return nil, status.Errorf(codes.Unavailable, "failed to connect to %s: %v", endpoint, err)
	}
	c.conn = conn

	go c.readLoop()

	return c, nil
}

// Endpoint returns the address the client is connected to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// On subscribes handler to events of the given kind. The first console
// subscription asks the endpoint to start forwarding console output.
func (c *Client) On(kind string, handler func(Event)) {
	c.mu.Lock()
	c.handlers[kind] = append(c.handlers[kind], handler)
	enableLog := kind == EventConsole && !c.logEnabled
	if enableLog {
		c.logEnabled = true
	}
	c.mu.Unlock()

	if enableLog {
		go func() {
			if err := c.call(context.Background(), "App.enableLog", nil, nil); err != nil {
				c.logger.Warn("failed to enable console forwarding", "endpoint", c.endpoint, "error", err)
			}
		}()
	}
}

// call sends one request and waits for its response, decoding the result into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if params == nil {
		params = struct{}{}
	}

	id := uuid.Must(uuid.NewV7()).String()
	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to encode %s request: %v", method, err)
	}

	ch := make(chan *message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case <-c.done:
		return status.Errorf(codes.Unavailable, "connection to %s is closed", c.endpoint)
	default:
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return status.Errorf(codes.Unavailable, "failed to send %s: %v", method, err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return status.Errorf(codes.DeadlineExceeded, "%s timed out", method)
		}
		return status.FromContextError(ctx.Err()).Err()
	case <-c.done:
		return status.Errorf(codes.Unavailable, "connection to %s closed while waiting for %s", c.endpoint, method)
	case msg := <-ch:
		if msg.Error != nil {
			return status.Errorf(codes.Unknown, "%s: %s", method, msg.Error.Message)
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return status.Errorf(codes.Internal, "failed to decode %s result: %v", method, err)
			}
		}
		return nil
	}
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("automation connection closed", "endpoint", c.endpoint, "error", err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("discarding malformed automation message", "error", err)
			continue
		}

		if msg.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
			continue
		}

		if kind, ok := eventMethods[msg.Method]; ok {
			c.dispatch(kind, msg.Params)
		}
	}
}

func (c *Client) dispatch(kind string, params json.RawMessage) {
	ev := Event{Kind: kind}
	var err error
	switch kind {
	case EventConsole:
		ev.Console = &ConsoleMessage{}
		err = json.Unmarshal(params, ev.Console)
	case EventException:
		ev.Exception = &ExceptionMessage{}
		err = json.Unmarshal(params, ev.Exception)
		if err == nil && ev.Exception.Name == "" {
			ev.Exception.Name = ev.Exception.Message
		}
	case EventBindingCalled:
		ev.Binding = &BindingCall{}
		err = json.Unmarshal(params, ev.Binding)
	}
	if err != nil {
		c.logger.Warn("discarding malformed event", "kind", kind, "error", err)
		return
	}

	c.mu.Lock()
	handlers := append([]func(Event){}, c.handlers[kind]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// callWx invokes a method on the global wx object.
func (c *Client) callWx(ctx context.Context, method string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.call(ctx, "App.callWxMethod", map[string]any{"method": method, "args": args}, &resp); err != nil {
		return err
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode wx.%s result: %w", method, err)
		}
	}
	return nil
}

var _ Session = (*Client)(nil)
