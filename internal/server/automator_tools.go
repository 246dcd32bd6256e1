// Copyright 2025 Joseph Cumines
//
// Session lifecycle and log capture tools

package server

import (
	"fmt"

	"github.com/joeycumines/miniprogram-mcp/internal/logcapture"
)

type automatorTools struct {
	launcher *Launcher
	capture  *logcapture.Capture
}

func (p *automatorTools) Tools() []Tool {
	limit := func(what string) map[string]any {
		prop := integerProp(fmt.Sprintf("Maximum number of %s to return, 1-%d", what, logcapture.MaxLogs))
		prop["minimum"] = 1
		prop["maximum"] = logcapture.MaxLogs
		prop["default"] = logcapture.MaxLogs
		return prop
	}
	logType := enumProp("Console type to read", "log", "info", "warn", "error", "debug")
	logType["default"] = logcapture.DefaultLogType

	return []Tool{
		{
			Name:        "launch",
			Title:       "Launch mini-program",
			Description: "Start the developer tool and connect to the mini-program automation instance. Required before any other tool. If the automation port is already in use the running instance is reused.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleLaunch,
		},
		{
			Name:        "connect",
			Title:       "Connect to mini-program",
			Description: "Connect to a developer tool that is already running with automation enabled, without starting a new one.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleConnect,
		},
		{
			Name:        "getlogs",
			Title:       "Get console logs",
			Description: "Get recent console output of the mini-program (console.log, info, warn, error, debug), oldest first. Useful for debugging or following business flows.",
			InputSchema: objectSchema(map[string]any{
				"type":  logType,
				"limit": limit("entries"),
			}),
			Handler: p.handleGetLogs,
		},
		{
			Name:        "getexceptions",
			Title:       "Get exceptions",
			Description: "Get recent uncaught exceptions of the mini-program with name, stack and time, oldest first. Useful for locating crashes or code errors.",
			InputSchema: objectSchema(map[string]any{
				"limit": limit("exceptions"),
			}),
			Handler: p.handleGetExceptions,
		},
		{
			Name:        "clearlogs",
			Title:       "Clear captured logs",
			Description: "Discard captured console entries, exceptions, or both. Capture continues afterwards.",
			InputSchema: objectSchema(map[string]any{
				"kind": enumProp("What to clear, defaults to all", "console", "exception", "all"),
			}),
			Handler: p.handleClearLogs,
		},
	}
}

func (p *automatorTools) handleLaunch(call *ToolCall) (*ToolResult, error) {
	if _, err := p.launcher.Launch(call.Context()); err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResultf("Mini-program launched and connected at %s.", p.launcher.Endpoint()), nil
}

func (p *automatorTools) handleConnect(call *ToolCall) (*ToolResult, error) {
	if _, err := p.launcher.Connect(call.Context()); err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResultf("Connected to %s.", p.launcher.Endpoint()), nil
}

func checkLimit(limit *int) *ToolResult {
	if limit != nil && (*limit < 1 || *limit > logcapture.MaxLogs) {
		return errorResultf("Invalid parameters: limit must be between 1 and %d, got %d", logcapture.MaxLogs, *limit)
	}
	return nil
}

func (p *automatorTools) handleGetLogs(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Limit *int   `json:"limit"`
		Type  string `json:"type"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if res := checkLimit(params.Limit); res != nil {
		return res, nil
	}
	limit := logcapture.MaxLogs
	if params.Limit != nil {
		limit = *params.Limit
	}
	logType := params.Type
	if logType == "" {
		logType = logcapture.DefaultLogType
	}

	entries := p.capture.ReadLogs(logType, limit)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	return linesResult(lines, fmt.Sprintf("No %s entries captured.", logType)), nil
}

func (p *automatorTools) handleGetExceptions(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Limit *int `json:"limit"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if res := checkLimit(params.Limit); res != nil {
		return res, nil
	}
	limit := logcapture.MaxLogs
	if params.Limit != nil {
		limit = *params.Limit
	}

	entries := p.capture.ReadExceptions(limit)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	return linesResult(lines, "No exceptions captured."), nil
}

func (p *automatorTools) handleClearLogs(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Kind string `json:"kind"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}

	var kinds []string
	switch params.Kind {
	case "", "all":
		kinds = []string{logcapture.KindConsole, logcapture.KindException}
	default:
		kinds = []string{params.Kind}
	}
	for _, kind := range kinds {
		if err := p.capture.Clear(kind); err != nil {
			return errorResultf("Invalid parameters: %v", err), nil
		}
	}
	return textResult("Captured logs cleared."), nil
}
