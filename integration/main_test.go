// Copyright 2025 Joseph Cumines
//
// End-to-end tests: the MCP server driving an in-process automation endpoint

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/config"
	"github.com/joeycumines/miniprogram-mcp/internal/server"
	"github.com/joeycumines/miniprogram-mcp/internal/server/tools"
	"github.com/joeycumines/miniprogram-mcp/internal/transport"
)

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION_TESTS") != "" {
		fmt.Println("Skipping integration tests (SKIP_INTEGRATION_TESTS is set)")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// harness is a running MCP server behind the HTTP transport, wired to a fake
// developer tool.
type harness struct {
	devtool *fakeDevTool
	srv     *server.MCPServer
	metrics *transport.MetricsRegistry
	baseURL string
	nextID  int
}

func startHarness(t *testing.T, mode config.SessionMode) *harness {
	t.Helper()

	devtool := newFakeDevTool(t)

	cfg := config.Default()
	cfg.Port = devtool.port()
	cfg.SessionMode = mode
	cfg.Timeout = 5 * time.Second
	cfg.RequestTimeout = 5 * time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := transport.NewMetricsRegistry()
	srv := server.NewMCPServer(cfg, server.Options{Metrics: metrics, Logger: logger})
	t.Cleanup(srv.Shutdown)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find available port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	tr := transport.NewHTTPTransport(&transport.HTTPTransportConfig{
		Address:           addr,
		CORSOrigin:        "*",
		HeartbeatInterval: time.Second,
		ReadTimeout:       10 * time.Second,
		Health:            srv.Health,
		Metrics:           metrics,
		Logger:            logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- tr.Serve(ctx, srv.HandleMessage)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-serveErr:
		case <-time.After(time.Second):
		}
	})

	h := &harness{devtool: devtool, srv: srv, metrics: metrics, baseURL: "http://" + addr}

	readyCtx, readyCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readyCancel()
	if err := tools.PollUntilContext(readyCtx, 50*time.Millisecond, func() (bool, error) {
		resp, err := http.Get(h.baseURL + "/health")
		if err != nil {
			return false, nil
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	}); err != nil {
		t.Fatalf("HTTP transport failed to become ready: %v", err)
	}
	return h
}

// rpc posts one JSON-RPC request to /message and decodes the response.
func (h *harness) rpc(t *testing.T, method string, params any) *transport.Message {
	t.Helper()
	h.nextID++
	body := map[string]any{"jsonrpc": "2.0", "id": h.nextID, "method": method}
	if params != nil {
		body["params"] = params
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(h.baseURL+"/message", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /message failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /message status = %d", resp.StatusCode)
	}
	var msg transport.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &msg
}

// callTool invokes a tool and returns its result, failing on a protocol error.
func (h *harness) callTool(t *testing.T, name string, args map[string]any) *server.ToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	msg := h.rpc(t, "tools/call", map[string]any{"name": name, "arguments": args})
	if msg.Error != nil {
		t.Fatalf("%s: protocol error %d: %s", name, msg.Error.Code, msg.Error.Message)
	}
	var result server.ToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("%s: failed to decode result: %v", name, err)
	}
	return &result
}

// text joins the text blocks of a result.
func text(r *server.ToolResult) string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}

// mustText fails unless the call succeeded, returning its text.
func (h *harness) mustText(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	result := h.callTool(t, name, args)
	if result.IsError {
		t.Fatalf("%s failed: %s", name, text(result))
	}
	return text(result)
}

func (h *harness) metricsText(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	if err := h.metrics.WritePrometheus(&b); err != nil {
		t.Fatal(err)
	}
	return b.String()
}

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tools.PollUntilContext(ctx, 10*time.Millisecond, func() (bool, error) {
		return cond(), nil
	}); err != nil {
		t.Fatalf("timed out waiting for %s", what)
	}
}
