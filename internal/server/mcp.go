// Copyright 2025 Joseph Cumines
//
// MCP server implementation

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/config"
	"github.com/joeycumines/miniprogram-mcp/internal/logcapture"
	"github.com/joeycumines/miniprogram-mcp/internal/transport"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "miniprogram-mcp"
	serverVersion   = "0.1.0"
)

// MCPServer represents an MCP server
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type MCPServer struct {
	cfg      *config.Config
	registry *Registry
	launcher *Launcher
	sessions SessionAccessor
	capture  *logcapture.Capture
	ops      *OperationStore
	audit    *AuditLogger
	metrics  *transport.MetricsRegistry
	logger   *slog.Logger
	prompts  []Prompt
}

// Tool represents an MCP tool
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Tool struct {
	Handler     func(*ToolCall) (*ToolResult, error)
	InputSchema map[string]any
	Name        string
	Title       string
	Description string
}

// ToolCall represents a tool call request
type ToolCall struct {
	ctx       context.Context
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Context returns the request context, never nil.
func (c *ToolCall) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// ToolResult represents a tool call result
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a content item in a tool result
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Options holds the collaborators of an MCPServer. Unset fields get defaults
// derived from the config.
type Options struct {
	Launcher *Launcher
	Sessions SessionAccessor
	Audit    *AuditLogger
	Metrics  *transport.MetricsRegistry
	Logger   *slog.Logger
}

// NewMCPServer creates a new MCP server and registers every tool.
func NewMCPServer(cfg *config.Config, opts Options) *MCPServer {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = NewLauncher(LauncherConfig{
			Options:     cfg.LaunchOptions(),
			Timeout:     cfg.Timeout,
			CallTimeout: cfg.RequestTimeout,
			Metrics:     opts.Metrics,
			Logger:      logger,
		})
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionAccessor(string(cfg.SessionMode), launcher)
	}

	s := &MCPServer{
		cfg:      cfg,
		registry: NewRegistry(),
		launcher: launcher,
		sessions: sessions,
		capture:  launcher.Capture(),
		ops:      NewOperationStore(),
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   logger,
		prompts:  []Prompt{guidePrompt()},
	}

	n := RegisterProviders(s.registry, logger,
		&automatorTools{launcher: launcher, capture: s.capture},
		&miniProgramTools{sessions: sessions, ops: s.ops},
		&pageTools{sessions: sessions},
		&elementTools{sessions: sessions},
	)
	logger.Debug("Registered tools", "count", n)

	return s
}

// Registry returns the tool registry.
func (s *MCPServer) Registry() *Registry { return s.registry }

// Launcher returns the session launcher.
func (s *MCPServer) Launcher() *Launcher { return s.launcher }

// Health reports session state for the HTTP /health endpoint.
func (s *MCPServer) Health() map[string]any {
	return map[string]any{
		"session_mode":      string(s.cfg.SessionMode),
		"session_connected": s.launcher.Connected(),
		"endpoint":          s.launcher.Endpoint(),
		"tools":             s.registry.Len(),
	}
}

// Shutdown closes the held session and the audit log.
func (s *MCPServer) Shutdown() {
	s.logger.Info("Shutting down MCP server...")
	if err := s.launcher.Close(); err != nil {
		s.logger.Warn("Failed to close session", "error", err)
	}
	if err := s.audit.Close(); err != nil {
		s.logger.Warn("Failed to close audit log", "error", err)
	}
}

// HandleMessage handles a single MCP message. It returns nil for notifications.
// It satisfies transport.Handler.
func (s *MCPServer) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.IsNotification() {
		s.logger.Debug("Notification received", "method", msg.Method)
		return nil, nil
	}

	var (
		result any
		rpcErr *transport.ErrorObj
	)
	switch msg.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools":   map[string]any{},
				"prompts": map[string]any{},
			},
			"serverInfo": map[string]any{"name": serverName, "version": serverVersion},
		}
	case "ping":
		result = map[string]any{}
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, rpcErr = s.callTool(ctx, msg.Params)
	case "prompts/list":
		result = s.listPrompts()
	case "prompts/get":
		result, rpcErr = s.getPrompt(msg.Params)
	default:
		rpcErr = &transport.ErrorObj{
			Code:    transport.ErrCodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", msg.Method),
		}
	}

	if rpcErr != nil {
		return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Error: rpcErr}, nil
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", msg.Method, err)
	}
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: resultBytes}, nil
}

func (s *MCPServer) listTools() map[string]any {
	tools := make([]map[string]any, 0, s.registry.Len())
	for _, tool := range s.registry.List() {
		entry := map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		}
		if tool.InputSchema == nil {
			entry["inputSchema"] = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if tool.Title != "" {
			entry["title"] = tool.Title
		}
		tools = append(tools, entry)
	}
	return map[string]any{"tools": tools}
}

func (s *MCPServer) callTool(ctx context.Context, raw json.RawMessage) (any, *transport.ErrorObj) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidRequest,
			Message: fmt.Sprintf("Invalid request: %v", err),
		}
	}

	tool, exists := s.registry.Lookup(params.Name)
	if !exists {
		return nil, &transport.ErrorObj{
			Code:    transport.ErrCodeMethodNotFound,
			Message: fmt.Sprintf("Tool not found: %s", params.Name),
		}
	}

	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		var args map[string]any
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, &transport.ErrorObj{
				Code:    transport.ErrCodeInvalidParams,
				Message: fmt.Sprintf("arguments must be an object: %v", err),
			}
		}
		if resp := validateToolInput(tool, args); resp != nil {
			return nil, resp.Error
		}
	} else if resp := validateToolInput(tool, map[string]any{}); resp != nil {
		return nil, resp.Error
	}

	if s.cfg.RequestTimeout > 0 && tool.Name != "launch" && tool.Name != "connect" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.invoke(tool, &ToolCall{ctx: ctx, Name: params.Name, Arguments: params.Arguments})
	duration := time.Since(start)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case result != nil && result.IsError:
		status = "tool_error"
	}
	s.metrics.RecordToolCall(tool.Name, status, duration)
	s.audit.LogToolCall(tool.Name, params.Arguments, status, duration)

	if err != nil {
		return nil, &transport.ErrorObj{Code: transport.ErrCodeInternalError, Message: err.Error()}
	}
	if result == nil {
		result = &ToolResult{Content: []Content{}}
	}
	return result, nil
}

// invoke runs the handler, converting a panic into an error.
func (s *MCPServer) invoke(tool *Tool, call *ToolCall) (result *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Tool handler panicked", "tool", tool.Name, "panic", rec)
			result, err = nil, errors.New("tool handler panicked")
		}
	}()
	return tool.Handler(call)
}
