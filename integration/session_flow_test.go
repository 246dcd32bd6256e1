// Copyright 2025 Joseph Cumines
//
// Tool flows against a live automation connection

package integration

import (
	"strings"
	"testing"

	"github.com/joeycumines/miniprogram-mcp/internal/config"
)

func TestLaunchMode_ToolsRequireLaunch(t *testing.T) {
	h := startHarness(t, config.SessionModeLaunch)

	result := h.callTool(t, "currentPage", nil)
	if !result.IsError || !strings.Contains(text(result), "launch first") {
		t.Fatalf("currentPage before launch = %q", text(result))
	}
	if n := h.devtool.connections(); n != 0 {
		t.Errorf("tools opened %d connections before launch", n)
	}
}

func TestLaunchMode_NavigateTapAndLogs(t *testing.T) {
	h := startHarness(t, config.SessionModeLaunch)

	if got := h.mustText(t, "launch", nil); !strings.Contains(got, "launched and connected") {
		t.Errorf("launch = %q", got)
	}
	// A developer tool that is already listening is adopted, never started.
	if n := h.devtool.connections(); n != 1 {
		t.Errorf("connections after launch = %d", n)
	}

	got := h.mustText(t, "navigateTo", map[string]any{"url": "/pages/detail/detail?id=7"})
	if got != `Navigated, current page path pages/detail/detail, query {"id":"7"}` {
		t.Errorf("navigateTo = %q", got)
	}
	if got := h.mustText(t, "currentPage", nil); !strings.Contains(got, "pages/detail/detail") {
		t.Errorf("currentPage = %q", got)
	}

	if got := h.mustText(t, "getElement", map[string]any{"selector": ".btn"}); got != "Element tag: button" {
		t.Errorf("getElement = %q", got)
	}
	missing := h.callTool(t, "tapElement", map[string]any{"selector": ".gone"})
	if !missing.IsError || !strings.Contains(text(missing), "element not found: .gone") {
		t.Errorf("tap missing element = %q", text(missing))
	}

	if got := h.mustText(t, "tapElement", map[string]any{"selector": ".btn"}); got != "Tapped .btn." {
		t.Errorf("tapElement = %q", got)
	}
	if got := h.mustText(t, "getPageData", map[string]any{}); !strings.Contains(got, `"count": 1`) {
		t.Errorf("getPageData after tap = %q", got)
	}

	eventually(t, "console entry", func() bool {
		return strings.Contains(text(h.callTool(t, "getlogs", nil)), `log: "tapped" "btn-1"`)
	})
	eventually(t, "console forwarding", func() bool {
		return h.devtool.callCount("App.enableLog") == 1
	})

	h.mustText(t, "clearlogs", map[string]any{"kind": "console"})
	if got := h.mustText(t, "getlogs", nil); got != "No log entries captured." {
		t.Errorf("getlogs after clear = %q", got)
	}

	metrics := h.metricsText(t)
	for _, want := range []string{
		`tool="tapElement",status="ok"`,
		`tool="tapElement",status="tool_error"`,
		`miniprogram_mcp_launches_total{status="ok"}`,
		"miniprogram_mcp_session_connected 1",
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %s:\n%s", want, metrics)
		}
	}
}

func TestLaunchMode_Audits(t *testing.T) {
	h := startHarness(t, config.SessionModeLaunch)
	h.mustText(t, "launch", nil)

	started := h.mustText(t, "startAudits", nil)
	name, _, _ := strings.Cut(strings.TrimPrefix(started, "Audit started: "), "\n")
	if !strings.HasPrefix(name, "operations/") {
		t.Fatalf("startAudits = %q", started)
	}
	if got := h.mustText(t, "getAuditOperation", map[string]any{"name": name}); got != "Operation "+name+" is running." {
		t.Errorf("running = %q", got)
	}

	if got := h.mustText(t, "stopAudits", nil); !strings.Contains(got, `"score": 92`) {
		t.Errorf("stopAudits = %q", got)
	}
	got := h.mustText(t, "getAuditOperation", map[string]any{"name": name, "wait": true, "timeout": 1})
	if !strings.HasPrefix(got, "Operation "+name+" is done.") || !strings.Contains(got, `"score": 92`) {
		t.Errorf("done = %q", got)
	}

	again := h.callTool(t, "stopAudits", nil)
	if !again.IsError || !strings.Contains(text(again), "audits not started") {
		t.Errorf("second stopAudits = %q", text(again))
	}
}

func TestLaunchMode_Disconnect(t *testing.T) {
	h := startHarness(t, config.SessionModeLaunch)
	h.mustText(t, "launch", nil)
	if !h.srv.Launcher().Connected() {
		t.Fatal("expected a held session after launch")
	}

	h.devtool.dropAll()
	eventually(t, "session to be forgotten", func() bool {
		return !h.srv.Launcher().Connected()
	})

	result := h.callTool(t, "currentPage", nil)
	if !result.IsError || !strings.Contains(text(result), "launch first") {
		t.Errorf("currentPage after disconnect = %q", text(result))
	}

	h.mustText(t, "launch", nil)
	if got := h.mustText(t, "currentPage", nil); !strings.Contains(got, "pages/index/index") {
		t.Errorf("currentPage after relaunch = %q", got)
	}
}

func TestReconnectMode_DialsPerCall(t *testing.T) {
	h := startHarness(t, config.SessionModeReconnect)

	for i := 0; i < 3; i++ {
		if got := h.mustText(t, "currentPage", nil); !strings.Contains(got, "pages/index/index") {
			t.Fatalf("currentPage = %q", got)
		}
	}
	if n := h.devtool.connections(); n != 3 {
		t.Errorf("connections = %d, want one per call", n)
	}
	if h.srv.Launcher().Connected() {
		t.Error("reconnect mode should not hold a session")
	}

	h.devtool.server.Close()
	result := h.callTool(t, "currentPage", nil)
	if !result.IsError || !strings.Contains(text(result), "launch first") {
		t.Errorf("currentPage with endpoint down = %q", text(result))
	}
}
