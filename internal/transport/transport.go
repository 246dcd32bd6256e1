// Copyright 2025 Joseph Cumines

// Package transport provides MCP message transport interfaces and implementations
// for JSON-RPC 2.0 communication over stdio and HTTP/SSE.
package transport

import (
	"context"
	"encoding/json"
)

// JSON-RPC 2.0 standard error codes.
// See: https://www.jsonrpc.org/specification#error_object
const (
	// ErrCodeParseError indicates invalid JSON was received by the server.
	ErrCodeParseError = -32700

	// ErrCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrCodeInvalidRequest = -32600

	// ErrCodeMethodNotFound indicates the method does not exist or is not available.
	ErrCodeMethodNotFound = -32601

	// ErrCodeInvalidParams indicates invalid method parameter(s).
	ErrCodeInvalidParams = -32602

	// ErrCodeInternalError indicates an internal JSON-RPC error.
	ErrCodeInternalError = -32603
)

// Handler processes one inbound message. A nil response means nothing is sent
// back, which is the case for notifications.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// Transport defines the interface for MCP message transport.
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// There are two implementations:
//   - StdioTransport: newline delimited JSON over stdin/stdout (default)
//   - HTTPTransport: HTTP POST for requests, SSE for streamed responses
type Transport interface {
	// Serve delivers inbound messages to handler until the peer goes away,
	// ctx is cancelled, or the transport is closed.
	Serve(ctx context.Context, handler Handler) error

	// WriteMessage sends a message outside the request/response flow.
	WriteMessage(msg *Message) error

	// Close is idempotent.
	Close() error

	IsClosed() bool
}

// Message represents a JSON-RPC 2.0 message, either a request or a response.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Message struct {
	// Error is set on failed responses; mutually exclusive with Result.
	Error *ErrorObj `json:"error,omitempty"`

	JSONRPC string `json:"jsonrpc"`

	// Method is set on requests and notifications.
	Method string `json:"method,omitempty"`

	// ID is omitted for notifications.
	ID json.RawMessage `json:"id,omitempty"`

	Params json.RawMessage `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
}

// IsNotification reports whether msg is a request that expects no response.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// ErrorObj represents a JSON-RPC 2.0 error object.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ErrorObj struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    int             `json:"code"`
}

// NewErrorResponse builds an error response to the request with the given id.
func NewErrorResponse(id json.RawMessage, code int, message string) *Message {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObj{Code: code, Message: message},
	}
}

var (
	_ Transport = (*StdioTransport)(nil)
	_ Transport = (*HTTPTransport)(nil)
)
