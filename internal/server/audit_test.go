// Copyright 2025 Joseph Cumines
//
// Audit logger unit tests

package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewAuditLogger_Disabled(t *testing.T) {
	logger, err := NewAuditLogger("")
	if err != nil {
		t.Fatalf("NewAuditLogger('') error = %v", err)
	}
	if logger.IsEnabled() {
		t.Error("Expected logger to be disabled when no file path provided")
	}
	// Should not panic when disabled
	logger.LogToolCall("tapElement", json.RawMessage(`{"selector":".btn"}`), "ok", time.Millisecond)
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewAuditLogger_InvalidPath(t *testing.T) {
	_, err := NewAuditLogger(filepath.Join(t.TempDir(), "missing", "dir", "audit.log"))
	if err == nil {
		t.Error("Expected error for invalid path")
	}
}

func TestAuditLogger_NilLogger(t *testing.T) {
	var logger *AuditLogger

	if logger.IsEnabled() {
		t.Error("Nil logger should not be enabled")
	}
	// Should not panic
	logger.LogToolCall("launch", nil, "ok", time.Millisecond)
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger error = %v", err)
	}
}

func TestAuditLogger_LogToolCall(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	logger, err := NewAuditLogger(logPath)
	if err != nil {
		t.Fatalf("NewAuditLogger error = %v", err)
	}
	if !logger.IsEnabled() {
		t.Fatal("Expected logger to be enabled")
	}

	logger.LogToolCall("navigateTo", json.RawMessage(`{"url":"/pages/index/index"}`), "ok", 50*time.Millisecond)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, content)
	}
	want := map[string]any{
		"msg":       "tool_invocation",
		"tool":      "navigateTo",
		"status":    "ok",
		"arguments": `{"url":"/pages/index/index"}`,
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %v", k, entry[k], v)
		}
	}
	if d, ok := entry["duration_seconds"].(float64); !ok || d != 0.05 {
		t.Errorf("duration_seconds = %v, want 0.05", entry["duration_seconds"])
	}
}

func TestAuditLogger_WriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLoggerWriter(&buf)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	logger.LogToolCall("getlogs", nil, "ok", time.Millisecond)
	if buf.Len() != 0 {
		t.Errorf("expected no output after Close, got %q", buf.String())
	}
}

func TestAuditLogger_FileAppendBehavior(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	for i := 0; i < 2; i++ {
		logger, err := NewAuditLogger(logPath)
		if err != nil {
			t.Fatalf("NewAuditLogger error = %v", err)
		}
		logger.LogToolCall("screenshot", nil, "ok", time.Millisecond)
		logger.Close()
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	if n := strings.Count(string(content), "\n"); n != 2 {
		t.Errorf("expected 2 lines, got %d:\n%s", n, content)
	}
}

func TestRedactArguments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string // strings that should appear in output
		excluded []string // strings that should NOT appear in output
	}{
		{
			name:     "no sensitive data",
			input:    `{"selector": ".item", "x": 100}`,
			expected: []string{".item", "100"},
			excluded: []string{"REDACTED"},
		},
		{
			name:     "ticket field",
			input:    `{"ticket": "t-12345"}`,
			expected: []string{"REDACTED"},
			excluded: []string{"t-12345"},
		},
		{
			name:     "token in mock result",
			input:    `{"method": "login", "result": {"code": "c1", "token": "eyJhbGc"}}`,
			expected: []string{"login", "c1", "REDACTED"},
			excluded: []string{"eyJhbGc"},
		},
		{
			name:     "secret in args array",
			input:    `{"method": "request", "args": [{"header": {"Authorization": "Bearer abc"}}]}`,
			expected: []string{"request", "REDACTED"},
			excluded: []string{"Bearer abc"},
		},
		{
			name:     "partial match",
			input:    `{"loginTicketValue": "value123"}`,
			expected: []string{"REDACTED"},
			excluded: []string{"value123"},
		},
		{
			name:     "openid",
			input:    `{"openid": "oABC"}`,
			expected: []string{"REDACTED"},
			excluded: []string{"oABC"},
		},
		{
			name:     "empty args",
			input:    ``,
			expected: []string{"{}"},
		},
		{
			name:     "null args",
			input:    `null`,
			expected: []string{"{}"},
		},
		{
			name:     "invalid json",
			input:    `{invalid}`,
			expected: []string{"unparseable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactArguments(json.RawMessage(tt.input))

			for _, exp := range tt.expected {
				if !strings.Contains(result, exp) {
					t.Errorf("Expected %q in result, got: %s", exp, result)
				}
			}
			for _, exc := range tt.excluded {
				if strings.Contains(result, exc) {
					t.Errorf("Should NOT contain %q, got: %s", exc, result)
				}
			}
		})
	}
}

func TestRedactMapValues_CaseInsensitive(t *testing.T) {
	m := map[string]any{
		"TICKET":    "secret1",
		"Ticket":    "secret2",
		"tIcKeT":    "secret3",
		"safe_data": "visible",
	}

	redactMapValues(m)

	for _, k := range []string{"TICKET", "Ticket", "tIcKeT"} {
		if m[k] != "[REDACTED]" {
			t.Errorf("%s should be redacted, got: %v", k, m[k])
		}
	}
	if m["safe_data"] != "visible" {
		t.Errorf("safe_data should NOT be redacted, got: %v", m["safe_data"])
	}
}

func TestRedactMapValues_NestedArrays(t *testing.T) {
	m := map[string]any{
		"args": []any{
			[]any{map[string]any{"password": "p", "name": "n"}},
		},
	}

	redactMapValues(m)

	inner := m["args"].([]any)[0].([]any)[0].(map[string]any)
	if inner["password"] != "[REDACTED]" {
		t.Errorf("nested password should be redacted, got: %v", inner["password"])
	}
	if inner["name"] != "n" {
		t.Errorf("name should NOT be redacted, got: %v", inner["name"])
	}
}

// TestAuditLogger_ConcurrentWrites verifies every concurrent call produces one
// intact JSON line.
func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent_audit.log")

	logger, err := NewAuditLogger(logPath)
	if err != nil {
		t.Fatalf("NewAuditLogger error = %v", err)
	}

	const goroutines, perGoroutine = 10, 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				logger.LogToolCall("getElementText", json.RawMessage(`{"selector":".title"}`), "ok", time.Millisecond)
			}
		}()
	}
	wg.Wait()
	logger.Close()

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != goroutines*perGoroutine {
		t.Errorf("expected %d lines, got %d", goroutines*perGoroutine, lines)
	}
}
