// Copyright 2025 Joseph Cumines
//
// Stdio transport for JSON-RPC 2.0 communication

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// errEmptyLine is returned by ReadMessage for blank lines, which Serve skips.
var errEmptyLine = errors.New("empty line received")

// maxLineSize bounds a single inbound message.
const maxLineSize = 16 << 20

// StdioTransport implements JSON-RPC 2.0 transport over stdin/stdout, one message
// per line. Reads and writes are guarded separately so responses can be written
// while the next request is being read.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	logger  *slog.Logger
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewStdioTransport creates a new stdio transport
func NewStdioTransport(stdin io.Reader, stdout io.Writer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReaderSize(stdin, 64<<10),
		writer: stdout,
		logger: slog.Default(),
	}
}

// SetLogger overrides the diagnostic logger.
func (t *StdioTransport) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// ReadMessage reads one JSON-RPC 2.0 message. It returns io.EOF once stdin is exhausted.
func (t *StdioTransport) ReadMessage() (*Message, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if t.closed.Load() {
		return nil, fmt.Errorf("transport is closed")
	}

	line, err := t.readLine()
	if err != nil {
		return nil, err
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errEmptyLine
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &msg, nil
}

func (t *StdioTransport) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := t.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("message exceeds %d bytes", maxLineSize)
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(line)) > 0 {
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("failed to read line: %w", err)
		}
	}
}

// WriteMessage writes a JSON-RPC 2.0 message
func (t *StdioTransport) WriteMessage(msg *Message) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close closes the transport
func (t *StdioTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// IsClosed returns whether the transport is closed
func (t *StdioTransport) IsClosed() bool {
	return t.closed.Load()
}

// Serve reads messages until stdin closes and runs handler for each one on its own
// goroutine, so a slow tool call does not hold up the next request. It waits for
// in-flight handlers before returning.
func (t *StdioTransport) Serve(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for ctx.Err() == nil && !t.closed.Load() {
		msg, err := t.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				t.logger.Info("stdin closed, exiting")
				return nil
			case errors.Is(err, errEmptyLine):
				continue
			case t.closed.Load():
				return nil
			}
			t.logger.Warn("error reading message", "error", err)
			if werr := t.WriteMessage(NewErrorResponse(nil, ErrCodeParseError, err.Error())); werr != nil {
				t.logger.Warn("error writing message", "error", werr)
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			t.respond(ctx, handler, msg)
		}()
	}
	return nil
}

func (t *StdioTransport) respond(ctx context.Context, handler Handler, msg *Message) {
	response, err := handler(ctx, msg)
	if err != nil {
		t.logger.Error("error handling message", "method", msg.Method, "error", err)
		if msg.IsNotification() {
			return
		}
		response = NewErrorResponse(msg.ID, ErrCodeInternalError, err.Error())
	}
	if response == nil {
		return
	}
	if err := t.WriteMessage(response); err != nil {
		t.logger.Warn("error writing message", "error", err)
	}
}
