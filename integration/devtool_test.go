// Copyright 2025 Joseph Cumines
//
// Fake developer tool automation endpoint

package integration

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeDevTool speaks the automation protocol for a single page app with one
// tappable ".btn" element. Tapping logs to the console.
type fakeDevTool struct {
	server   *httptest.Server
	calls    map[string]int
	query    map[string]any
	data     map[string]any
	path     string
	conns    []*devtoolConn
	mu       sync.Mutex
	auditing bool
}

type devtoolConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *devtoolConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func newFakeDevTool(t *testing.T) *fakeDevTool {
	t.Helper()
	f := &fakeDevTool{
		calls: make(map[string]int),
		query: map[string]any{},
		data:  map[string]any{"title": "Home", "count": 0.0},
		path:  "pages/index/index",
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dc := &devtoolConn{conn: conn}
		f.mu.Lock()
		f.conns = append(f.conns, dc)
		f.mu.Unlock()
		defer conn.Close()
		f.serve(dc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDevTool) port() int {
	return f.server.Listener.Addr().(*net.TCPAddr).Port
}

// connections is the number of websocket connections accepted so far.
func (f *fakeDevTool) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeDevTool) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// dropAll closes every connection from the endpoint side.
func (f *fakeDevTool) dropAll() {
	f.mu.Lock()
	conns := append([]*devtoolConn(nil), f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func (f *fakeDevTool) serve(dc *devtoolConn) {
	for {
		var req struct {
			Params map[string]any `json:"params"`
			ID     string         `json:"id"`
			Method string         `json:"method"`
		}
		if err := dc.conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.calls[req.Method]++
		f.mu.Unlock()

		result, err := f.handle(dc, req.Method, req.Params)
		resp := map[string]any{"id": req.ID}
		if err != nil {
			resp["error"] = map[string]any{"message": err.Error()}
		} else {
			resp["result"] = result
		}
		if err := dc.write(resp); err != nil {
			return
		}
	}
}

func (f *fakeDevTool) handle(dc *devtoolConn, method string, params map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "App.enableLog", "App.addBinding":
		return map[string]any{}, nil
	case "App.getCurrentPage":
		return f.pageInfo(), nil
	case "App.getPageStack":
		return map[string]any{"pageStack": []any{f.pageInfo()}}, nil
	case "App.callWxMethod":
		return f.callWx(params)
	case "Page.getElement":
		if params["selector"] == ".btn" {
			return map[string]any{"elementId": "btn-1", "tagName": "button"}, nil
		}
		return map[string]any{}, nil
	case "Page.getData":
		return map[string]any{"data": f.data}, nil
	case "Page.setData":
		data, _ := params["data"].(map[string]any)
		for k, v := range data {
			f.data[k] = v
		}
		return map[string]any{}, nil
	case "Element.tap":
		f.data["count"] = f.data["count"].(float64) + 1
		go func() {
			_ = dc.write(map[string]any{
				"method": "App.logAdded",
				"params": map[string]any{"type": "log", "args": []any{"tapped", params["elementId"]}},
			})
		}()
		return map[string]any{}, nil
	case "Tool.startAudits":
		f.auditing = true
		return map[string]any{}, nil
	case "Tool.stopAudits":
		if !f.auditing {
			return nil, errors.New("audits not started")
		}
		f.auditing = false
		return map[string]any{"score": 92.0}, nil
	}
	return nil, fmt.Errorf("unknown method %s", method)
}

func (f *fakeDevTool) pageInfo() map[string]any {
	return map[string]any{"pageId": 1, "path": f.path, "query": f.query}
}

func (f *fakeDevTool) callWx(params map[string]any) (any, error) {
	name, _ := params["method"].(string)
	switch name {
	case "navigateTo", "redirectTo", "reLaunch", "switchTab":
		args, _ := params["args"].([]any)
		if len(args) == 0 {
			return nil, fmt.Errorf("wx.%s requires an argument", name)
		}
		opts, _ := args[0].(map[string]any)
		url, _ := opts["url"].(string)
		path, rawQuery, _ := strings.Cut(strings.TrimPrefix(url, "/"), "?")
		f.path = path
		f.query = map[string]any{}
		for _, pair := range strings.Split(rawQuery, "&") {
			if k, v, ok := strings.Cut(pair, "="); ok {
				f.query[k] = v
			}
		}
		return map[string]any{"result": map[string]any{"errMsg": name + ":ok"}}, nil
	}
	return nil, fmt.Errorf("wx.%s is not available", name)
}
