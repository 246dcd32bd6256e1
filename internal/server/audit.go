// Copyright 2025 Joseph Cumines
//
// Audit logging for MCP tool invocations

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// AuditLogger writes one JSON line per tool call: tool name, redacted
// arguments, outcome and duration. A nil or disabled logger discards calls.
type AuditLogger struct {
	logger *slog.Logger
	closer io.Closer
	mu     sync.Mutex
}

// redactedKeys are argument keys whose values never reach the audit log.
// Keys containing any of them are redacted too.
var redactedKeys = map[string]bool{
	"ticket":        true,
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"credential":    true,
	"private_key":   true,
	"authorization": true,
	"cookie":        true,
	"session_id":    true,
	"openid":        true,
}

// NewAuditLogger opens filePath for appending. An empty path returns a
// disabled logger.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{}, nil
	}
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	a := NewAuditLoggerWriter(file)
	a.closer = file
	return a, nil
}

// NewAuditLoggerWriter returns a logger writing JSON lines to w.
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// Close closes the underlying file, if any. Safe to call more than once.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = nil
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// IsEnabled reports whether calls are being written.
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logger != nil
}

// LogToolCall logs a tool invocation with redacted arguments.
func (a *AuditLogger) LogToolCall(tool string, args json.RawMessage, status string, duration time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	logger := a.logger
	a.mu.Unlock()
	if logger == nil {
		return
	}

	logger.Info("tool_invocation",
		slog.String("tool", tool),
		slog.String("arguments", redactArguments(args)),
		slog.String("status", status),
		slog.Float64("duration_seconds", duration.Seconds()),
	)
}

// redactArguments redacts sensitive values from JSON arguments.
func redactArguments(args json.RawMessage) string {
	if len(args) == 0 || string(args) == "null" {
		return "{}"
	}

	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "[unparseable]"
	}

	redactMapValues(parsed)

	redacted, err := json.Marshal(parsed)
	if err != nil {
		return "[error]"
	}
	return string(redacted)
}

func isRedactedKey(key string) bool {
	lowerKey := strings.ToLower(key)
	if redactedKeys[lowerKey] {
		return true
	}
	for redactKey := range redactedKeys {
		if strings.Contains(lowerKey, redactKey) {
			return true
		}
	}
	return false
}

// redactMapValues recursively redacts sensitive values in a map.
func redactMapValues(m map[string]any) {
	for key, value := range m {
		if isRedactedKey(key) {
			m[key] = "[REDACTED]"
			continue
		}
		redactValue(value)
	}
}

func redactValue(value any) {
	switch v := value.(type) {
	case map[string]any:
		redactMapValues(v)
	case []any:
		for _, item := range v {
			redactValue(item)
		}
	}
}
