// Copyright 2025 Joseph Cumines
//
// App and tool level session operations

package automator

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type pageInfo struct {
	Query  *structpb.Struct `json:"query"`
	Path   string           `json:"path"`
	PageID int64            `json:"pageId"`
}

func (c *Client) newPage(info pageInfo) *page {
	return &page{client: c, id: info.PageID, path: info.Path, query: info.Query}
}

// PageStack returns the open pages, bottom of the stack first.
func (c *Client) PageStack(ctx context.Context) ([]Page, error) {
	var resp struct {
		PageStack []pageInfo `json:"pageStack"`
	}
	if err := c.call(ctx, "App.getPageStack", nil, &resp); err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(resp.PageStack))
	for _, info := range resp.PageStack {
		pages = append(pages, c.newPage(info))
	}
	return pages, nil
}

// CurrentPage returns the page on top of the stack, or nil when none is open.
func (c *Client) CurrentPage(ctx context.Context) (Page, error) {
	var info pageInfo
	if err := c.call(ctx, "App.getCurrentPage", nil, &info); err != nil {
		return nil, err
	}
	if info.PageID == 0 && info.Path == "" {
		return nil, nil
	}
	return c.newPage(info), nil
}

func (c *Client) navigate(ctx context.Context, method string, params map[string]any) (Page, error) {
	if err := c.callWx(ctx, method, []any{params}, nil); err != nil {
		return nil, err
	}
	return c.CurrentPage(ctx)
}

// NavigateTo keeps the current page and opens url.
func (c *Client) NavigateTo(ctx context.Context, url string) (Page, error) {
	return c.navigate(ctx, "navigateTo", map[string]any{"url": url})
}

// RedirectTo closes the current page and opens url.
func (c *Client) RedirectTo(ctx context.Context, url string) (Page, error) {
	return c.navigate(ctx, "redirectTo", map[string]any{"url": url})
}

// NavigateBack closes delta pages. A delta below 1 is treated as 1.
func (c *Client) NavigateBack(ctx context.Context, delta int) (Page, error) {
	if delta < 1 {
		delta = 1
	}
	return c.navigate(ctx, "navigateBack", map[string]any{"delta": delta})
}

// ReLaunch closes every page and opens url.
func (c *Client) ReLaunch(ctx context.Context, url string) (Page, error) {
	return c.navigate(ctx, "reLaunch", map[string]any{"url": url})
}

// SwitchTab opens the tabBar page at url.
func (c *Client) SwitchTab(ctx context.Context, url string) (Page, error) {
	return c.navigate(ctx, "switchTab", map[string]any{"url": url})
}

// SystemInfo returns the result of wx.getSystemInfoSync.
func (c *Client) SystemInfo(ctx context.Context) (*structpb.Value, error) {
	var info *structpb.Value
	if err := c.callWx(ctx, "getSystemInfoSync", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// CallWxMethod calls wx.<method>(...args).
func (c *Client) CallWxMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	var result *structpb.Value
	if err := c.callWx(ctx, method, valuesToAny(args), &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MockWxMethod makes wx.<method> return result until restored.
func (c *Client) MockWxMethod(ctx context.Context, method string, result *structpb.Value) error {
	return c.call(ctx, "App.mockWxMethod", map[string]any{"method": method, "result": result}, nil)
}

// RestoreWxMethod removes a mock installed by MockWxMethod.
func (c *Client) RestoreWxMethod(ctx context.Context, method string) error {
	return c.call(ctx, "App.mockWxMethod", map[string]any{"method": method}, nil)
}

// Evaluate runs appFunction in the AppService with args.
func (c *Client) Evaluate(ctx context.Context, appFunction string, args []*structpb.Value) (*structpb.Value, error) {
	var resp struct {
		Result *structpb.Value `json:"result"`
	}
	params := map[string]any{"functionDeclaration": appFunction, "args": valuesToAny(args)}
	if err := c.call(ctx, "App.callFunction", params, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// PageScrollTo scrolls the current page to scrollTop px.
func (c *Client) PageScrollTo(ctx context.Context, scrollTop float64) error {
	return c.callWx(ctx, "pageScrollTo", []any{map[string]any{"scrollTop": scrollTop, "duration": 0}}, nil)
}

// Screenshot captures the simulator viewport as PNG.
func (c *Client) Screenshot(ctx context.Context) (*httpbody.HttpBody, error) {
	var resp struct {
		Data string `json:"data"`
	}
	if err := c.call(ctx, "App.captureScreenshot", nil, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "screenshot is not valid base64: %v", err)
	}
	return &httpbody.HttpBody{ContentType: "image/png", Data: data}, nil
}

// ExposeFunction registers a global binding named name in the AppService.
// Invocations are delivered as EventBindingCalled events.
func (c *Client) ExposeFunction(ctx context.Context, name string) error {
	return c.call(ctx, "App.addBinding", map[string]any{"name": name}, nil)
}

// TestAccounts lists the developer tool's multi-account debugging users.
func (c *Client) TestAccounts(ctx context.Context) ([]TestAccount, error) {
	var resp struct {
		Accounts []TestAccount `json:"accounts"`
	}
	if err := c.call(ctx, "Tool.getTestAccounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// StartAudits starts an experience audit run.
func (c *Client) StartAudits(ctx context.Context) error {
	return c.call(ctx, "Tool.startAudits", nil, nil)
}

// StopAudits stops the running audit and returns its report. When path is set the
// developer tool also writes the report there.
func (c *Client) StopAudits(ctx context.Context, path string) (*structpb.Value, error) {
	var params any
	if path != "" {
		params = map[string]any{"path": path}
	}
	var report json.RawMessage
	if err := c.call(ctx, "Tool.stopAudits", params, &report); err != nil {
		return nil, err
	}
	if len(report) == 0 {
		return structpb.NewNullValue(), nil
	}
	var v structpb.Value
	if err := v.UnmarshalJSON(report); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to decode audit report: %v", err)
	}
	return &v, nil
}

// GetTicket returns the developer tool's login ticket.
func (c *Client) GetTicket(ctx context.Context) (string, error) {
	var resp struct {
		Ticket string `json:"ticket"`
	}
	if err := c.call(ctx, "Tool.getTicket", nil, &resp); err != nil {
		return "", err
	}
	return resp.Ticket, nil
}

// valuesToAny keeps the order of args and encodes nil entries as JSON null.
func valuesToAny(args []*structpb.Value) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, a)
	}
	return out
}
