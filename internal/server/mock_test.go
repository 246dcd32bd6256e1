// Copyright 2025 Joseph Cumines
//
// Test doubles for automation sessions

package server

import (
	"context"
	"sync"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "mock: %s not implemented", method)
}

// mockSession implements automator.Session. Unset funcs fail with Unimplemented.
type mockSession struct {
	pageStackFunc       func(ctx context.Context) ([]automator.Page, error)
	currentPageFunc     func(ctx context.Context) (automator.Page, error)
	navigateFunc        func(ctx context.Context, method, url string) (automator.Page, error)
	navigateBackFunc    func(ctx context.Context, delta int) (automator.Page, error)
	systemInfoFunc      func(ctx context.Context) (*structpb.Value, error)
	callWxMethodFunc    func(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
	mockWxMethodFunc    func(ctx context.Context, method string, result *structpb.Value) error
	restoreWxMethodFunc func(ctx context.Context, method string) error
	evaluateFunc        func(ctx context.Context, fn string, args []*structpb.Value) (*structpb.Value, error)
	pageScrollToFunc    func(ctx context.Context, top float64) error
	screenshotFunc      func(ctx context.Context) (*httpbody.HttpBody, error)
	exposeFunctionFunc  func(ctx context.Context, name string) error
	testAccountsFunc    func(ctx context.Context) ([]automator.TestAccount, error)
	startAuditsFunc     func(ctx context.Context) error
	stopAuditsFunc      func(ctx context.Context, path string) (*structpb.Value, error)
	getTicketFunc       func(ctx context.Context) (string, error)

	mu       sync.Mutex
	handlers map[string][]func(automator.Event)
	closed   int
	done     chan struct{}
}

func (m *mockSession) On(kind string, handler func(automator.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string][]func(automator.Event))
	}
	m.handlers[kind] = append(m.handlers[kind], handler)
}

// emit delivers ev to every handler subscribed to its kind.
func (m *mockSession) emit(ev automator.Event) {
	m.mu.Lock()
	hs := append([]func(automator.Event){}, m.handlers[ev.Kind]...)
	m.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (m *mockSession) subscriptions(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[kind])
}

func (m *mockSession) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSession) PageStack(ctx context.Context) ([]automator.Page, error) {
	if m.pageStackFunc != nil {
		return m.pageStackFunc(ctx)
	}
	return nil, unimplemented("PageStack")
}

func (m *mockSession) CurrentPage(ctx context.Context) (automator.Page, error) {
	if m.currentPageFunc != nil {
		return m.currentPageFunc(ctx)
	}
	return nil, nil
}

func (m *mockSession) navigate(ctx context.Context, method, url string) (automator.Page, error) {
	if m.navigateFunc != nil {
		return m.navigateFunc(ctx, method, url)
	}
	return nil, unimplemented(method)
}

func (m *mockSession) NavigateTo(ctx context.Context, url string) (automator.Page, error) {
	return m.navigate(ctx, "navigateTo", url)
}

func (m *mockSession) RedirectTo(ctx context.Context, url string) (automator.Page, error) {
	return m.navigate(ctx, "redirectTo", url)
}

func (m *mockSession) NavigateBack(ctx context.Context, delta int) (automator.Page, error) {
	if m.navigateBackFunc != nil {
		return m.navigateBackFunc(ctx, delta)
	}
	return nil, unimplemented("NavigateBack")
}

func (m *mockSession) ReLaunch(ctx context.Context, url string) (automator.Page, error) {
	return m.navigate(ctx, "reLaunch", url)
}

func (m *mockSession) SwitchTab(ctx context.Context, url string) (automator.Page, error) {
	return m.navigate(ctx, "switchTab", url)
}

func (m *mockSession) SystemInfo(ctx context.Context) (*structpb.Value, error) {
	if m.systemInfoFunc != nil {
		return m.systemInfoFunc(ctx)
	}
	return nil, unimplemented("SystemInfo")
}

func (m *mockSession) CallWxMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	if m.callWxMethodFunc != nil {
		return m.callWxMethodFunc(ctx, method, args)
	}
	return nil, unimplemented("CallWxMethod")
}

func (m *mockSession) MockWxMethod(ctx context.Context, method string, result *structpb.Value) error {
	if m.mockWxMethodFunc != nil {
		return m.mockWxMethodFunc(ctx, method, result)
	}
	return unimplemented("MockWxMethod")
}

func (m *mockSession) RestoreWxMethod(ctx context.Context, method string) error {
	if m.restoreWxMethodFunc != nil {
		return m.restoreWxMethodFunc(ctx, method)
	}
	return unimplemented("RestoreWxMethod")
}

func (m *mockSession) Evaluate(ctx context.Context, fn string, args []*structpb.Value) (*structpb.Value, error) {
	if m.evaluateFunc != nil {
		return m.evaluateFunc(ctx, fn, args)
	}
	return nil, unimplemented("Evaluate")
}

func (m *mockSession) PageScrollTo(ctx context.Context, top float64) error {
	if m.pageScrollToFunc != nil {
		return m.pageScrollToFunc(ctx, top)
	}
	return unimplemented("PageScrollTo")
}

func (m *mockSession) Screenshot(ctx context.Context) (*httpbody.HttpBody, error) {
	if m.screenshotFunc != nil {
		return m.screenshotFunc(ctx)
	}
	return nil, unimplemented("Screenshot")
}

func (m *mockSession) ExposeFunction(ctx context.Context, name string) error {
	if m.exposeFunctionFunc != nil {
		return m.exposeFunctionFunc(ctx, name)
	}
	return unimplemented("ExposeFunction")
}

func (m *mockSession) TestAccounts(ctx context.Context) ([]automator.TestAccount, error) {
	if m.testAccountsFunc != nil {
		return m.testAccountsFunc(ctx)
	}
	return nil, unimplemented("TestAccounts")
}

func (m *mockSession) StartAudits(ctx context.Context) error {
	if m.startAuditsFunc != nil {
		return m.startAuditsFunc(ctx)
	}
	return unimplemented("StartAudits")
}

func (m *mockSession) StopAudits(ctx context.Context, path string) (*structpb.Value, error) {
	if m.stopAuditsFunc != nil {
		return m.stopAuditsFunc(ctx, path)
	}
	return nil, unimplemented("StopAudits")
}

func (m *mockSession) GetTicket(ctx context.Context) (string, error) {
	if m.getTicketFunc != nil {
		return m.getTicketFunc(ctx)
	}
	return "", unimplemented("GetTicket")
}

// Close closes done, when set, the first time it is called.
func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	if m.closed == 1 && m.done != nil {
		close(m.done)
	}
	return nil
}

// mockDoneSession adds a Done channel, as automator.Client has.
type mockDoneSession struct {
	*mockSession
}

func newMockDoneSession() *mockDoneSession {
	return &mockDoneSession{&mockSession{done: make(chan struct{})}}
}

func (m *mockDoneSession) Done() <-chan struct{} { return m.done }

// mockPage implements automator.Page.
type mockPage struct {
	path          string
	query         *structpb.Struct
	elementFunc   func(ctx context.Context, selector string) (automator.Element, error)
	elementsFunc  func(ctx context.Context, selector string) ([]automator.Element, error)
	dataFunc      func(ctx context.Context, path string) (*structpb.Value, error)
	setDataFunc   func(ctx context.Context, data *structpb.Struct) error
	sizeFunc      func(ctx context.Context) (automator.Size, error)
	scrollTopFunc func(ctx context.Context) (float64, error)
	callFunc      func(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
}

func (p *mockPage) Path() string            { return p.path }
func (p *mockPage) Query() *structpb.Struct { return p.query }

func (p *mockPage) Element(ctx context.Context, selector string) (automator.Element, error) {
	if p.elementFunc != nil {
		return p.elementFunc(ctx, selector)
	}
	return nil, nil
}

func (p *mockPage) Elements(ctx context.Context, selector string) ([]automator.Element, error) {
	if p.elementsFunc != nil {
		return p.elementsFunc(ctx, selector)
	}
	return nil, nil
}

func (p *mockPage) Data(ctx context.Context, path string) (*structpb.Value, error) {
	if p.dataFunc != nil {
		return p.dataFunc(ctx, path)
	}
	return nil, unimplemented("Data")
}

func (p *mockPage) SetData(ctx context.Context, data *structpb.Struct) error {
	if p.setDataFunc != nil {
		return p.setDataFunc(ctx, data)
	}
	return unimplemented("SetData")
}

func (p *mockPage) Size(ctx context.Context) (automator.Size, error) {
	if p.sizeFunc != nil {
		return p.sizeFunc(ctx)
	}
	return automator.Size{}, unimplemented("Size")
}

func (p *mockPage) ScrollTop(ctx context.Context) (float64, error) {
	if p.scrollTopFunc != nil {
		return p.scrollTopFunc(ctx)
	}
	return 0, unimplemented("ScrollTop")
}

func (p *mockPage) CallMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	if p.callFunc != nil {
		return p.callFunc(ctx, method, args)
	}
	return nil, unimplemented("CallMethod")
}

// mockElement implements automator.Element. children maps selectors to matches.
type mockElement struct {
	tag      string
	children map[string]automator.Element
	text     string
	tapFunc  func(ctx context.Context) error
	touches  []automator.TouchEvent
	mu       sync.Mutex
}

func (e *mockElement) TagName() string { return e.tag }

func (e *mockElement) Element(_ context.Context, selector string) (automator.Element, error) {
	return e.children[selector], nil
}

func (e *mockElement) Size(context.Context) (automator.Size, error) {
	return automator.Size{Width: 100, Height: 40}, nil
}

func (e *mockElement) Offset(context.Context) (automator.Offset, error) {
	return automator.Offset{Left: 10, Top: 20}, nil
}

func (e *mockElement) Text(context.Context) (string, error) { return e.text, nil }

func (e *mockElement) Attribute(_ context.Context, name string) (string, error) {
	return "attr-" + name, nil
}

func (e *mockElement) Property(_ context.Context, name string) (*structpb.Value, error) {
	return structpb.NewBoolValue(true), nil
}

func (e *mockElement) Wxml(context.Context) (string, error) { return "<text>hi</text>", nil }

func (e *mockElement) OuterWxml(context.Context) (string, error) {
	return "<" + e.tag + "><text>hi</text></" + e.tag + ">", nil
}

func (e *mockElement) Value(context.Context) (*structpb.Value, error) {
	return structpb.NewStringValue("v"), nil
}

func (e *mockElement) Style(_ context.Context, name string) (string, error) {
	return "style-" + name, nil
}

func (e *mockElement) Tap(ctx context.Context) error {
	if e.tapFunc != nil {
		return e.tapFunc(ctx)
	}
	return nil
}

func (e *mockElement) Longpress(context.Context) error { return nil }

func (e *mockElement) recordTouch(ev automator.TouchEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touches = append(e.touches, ev)
	return nil
}

func (e *mockElement) Touchstart(_ context.Context, ev automator.TouchEvent) error {
	return e.recordTouch(ev)
}

func (e *mockElement) Touchmove(_ context.Context, ev automator.TouchEvent) error {
	return e.recordTouch(ev)
}

func (e *mockElement) Touchend(_ context.Context, ev automator.TouchEvent) error {
	return e.recordTouch(ev)
}

func (e *mockElement) Trigger(context.Context, string, *structpb.Struct) error { return nil }

// mockInputElement adds InputElement.
type mockInputElement struct {
	*mockElement
	value string
}

func (e *mockInputElement) Input(_ context.Context, value string) error {
	e.value = value
	return nil
}

// mockCustomElement adds CustomElement.
type mockCustomElement struct {
	*mockElement
	data *structpb.Struct
}

func (e *mockCustomElement) CallMethod(_ context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	return structpb.NewStringValue(method), nil
}

func (e *mockCustomElement) Data(context.Context, string) (*structpb.Value, error) {
	return structpb.NewStructValue(e.data), nil
}

func (e *mockCustomElement) SetData(_ context.Context, data *structpb.Struct) error {
	e.data = data
	return nil
}

// mockScrollViewElement adds ScrollViewElement.
type mockScrollViewElement struct {
	*mockElement
}

func (e *mockScrollViewElement) ScrollWidth(context.Context) (float64, error)  { return 320, nil }
func (e *mockScrollViewElement) ScrollHeight(context.Context) (float64, error) { return 1200, nil }
func (e *mockScrollViewElement) ScrollTo(context.Context, float64, float64) error {
	return nil
}

// staticAccessor hands out one session, or err.
type staticAccessor struct {
	sess     automator.Session
	err      error
	released int
	mu       sync.Mutex
}

func (a *staticAccessor) Acquire(context.Context) (automator.Session, func(), error) {
	if a.err != nil {
		return nil, nil, a.err
	}
	return a.sess, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.released++
	}, nil
}

// pageSession returns a session whose current page is page.
func pageSession(page automator.Page) *mockSession {
	return &mockSession{
		currentPageFunc: func(context.Context) (automator.Page, error) { return page, nil },
	}
}
