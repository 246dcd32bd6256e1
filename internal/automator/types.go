// Copyright 2025 Joseph Cumines
//
// Automation session types

package automator

import (
	"context"

	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event kinds accepted by Session.On.
const (
	// EventConsole is emitted for every console.* call in the mini-program.
	EventConsole = "console"
	// EventException is emitted for uncaught exceptions in the mini-program.
	EventException = "exception"
	// EventBindingCalled is emitted when a function exposed via ExposeFunction is invoked.
	EventBindingCalled = "bindingCalled"
)

// ConsoleMessage is the payload of an EventConsole event.
type ConsoleMessage struct {
	Type string            `json:"type"`
	Args []*structpb.Value `json:"args"`
}

// ExceptionMessage is the payload of an EventException event.
type ExceptionMessage struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// BindingCall is the payload of an EventBindingCalled event.
type BindingCall struct {
	Name string            `json:"name"`
	Args []*structpb.Value `json:"args"`
}

// Event is a push notification delivered by the automation endpoint.
// Exactly one of the payload fields is set, matching Kind.
type Event struct {
	Console   *ConsoleMessage
	Exception *ExceptionMessage
	Binding   *BindingCall
	Kind      string
}

// Size is a width/height pair in px.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Offset is a page-relative position in px.
type Offset struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// Touch is a single touch point.
type Touch struct {
	Identifier float64 `json:"identifier"`
	PageX      float64 `json:"pageX"`
	PageY      float64 `json:"pageY"`
	ClientX    float64 `json:"clientX"`
	ClientY    float64 `json:"clientY"`
}

// TouchEvent describes a touchstart/touchmove/touchend interaction.
type TouchEvent struct {
	Touches        []Touch `json:"touches"`
	ChangedTouches []Touch `json:"changedTouches"`
}

// TestAccount is a developer tool multi-account debugging user.
type TestAccount struct {
	NickName string `json:"nickName"`
	OpenID   string `json:"openid"`
}

// Session is a live connection to a running mini-program under automation.
//
// Pass-through values (method arguments, mock results, page data) are opaque
// JSON values; the session never inspects them.
type Session interface {
	// On subscribes handler to events of the given kind. Handlers run on the
	// connection's reader goroutine and must not block.
	On(kind string, handler func(Event))

	PageStack(ctx context.Context) ([]Page, error)
	// CurrentPage returns nil and no error when no page is open.
	CurrentPage(ctx context.Context) (Page, error)
	NavigateTo(ctx context.Context, url string) (Page, error)
	RedirectTo(ctx context.Context, url string) (Page, error)
	NavigateBack(ctx context.Context, delta int) (Page, error)
	ReLaunch(ctx context.Context, url string) (Page, error)
	SwitchTab(ctx context.Context, url string) (Page, error)

	SystemInfo(ctx context.Context) (*structpb.Value, error)
	CallWxMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
	MockWxMethod(ctx context.Context, method string, result *structpb.Value) error
	RestoreWxMethod(ctx context.Context, method string) error
	Evaluate(ctx context.Context, appFunction string, args []*structpb.Value) (*structpb.Value, error)
	PageScrollTo(ctx context.Context, scrollTop float64) error
	Screenshot(ctx context.Context) (*httpbody.HttpBody, error)
	ExposeFunction(ctx context.Context, name string) error
	TestAccounts(ctx context.Context) ([]TestAccount, error)
	StartAudits(ctx context.Context) error
	StopAudits(ctx context.Context, path string) (*structpb.Value, error)
	GetTicket(ctx context.Context) (string, error)

	Close() error
}

// Page is an open mini-program page.
type Page interface {
	Path() string
	Query() *structpb.Struct

	// Element returns nil and no error when selector matches nothing.
	Element(ctx context.Context, selector string) (Element, error)
	Elements(ctx context.Context, selector string) ([]Element, error)
	Data(ctx context.Context, path string) (*structpb.Value, error)
	SetData(ctx context.Context, data *structpb.Struct) error
	Size(ctx context.Context) (Size, error)
	ScrollTop(ctx context.Context) (float64, error)
	CallMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
}

// Element is a node on a page. Component specific behaviour is exposed through
// the optional interfaces below, discovered with a type assertion.
type Element interface {
	TagName() string

	// Element returns nil and no error when selector matches nothing.
	Element(ctx context.Context, selector string) (Element, error)
	Size(ctx context.Context) (Size, error)
	Offset(ctx context.Context) (Offset, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Property(ctx context.Context, name string) (*structpb.Value, error)
	Wxml(ctx context.Context) (string, error)
	OuterWxml(ctx context.Context) (string, error)
	Value(ctx context.Context) (*structpb.Value, error)
	Style(ctx context.Context, name string) (string, error)
	Tap(ctx context.Context) error
	Longpress(ctx context.Context) error
	Touchstart(ctx context.Context, ev TouchEvent) error
	Touchmove(ctx context.Context, ev TouchEvent) error
	Touchend(ctx context.Context, ev TouchEvent) error
	Trigger(ctx context.Context, eventType string, detail *structpb.Struct) error
}

// InputElement is an input or textarea.
type InputElement interface {
	Element
	Input(ctx context.Context, value string) error
}

// CustomElement is an instance of a custom component.
type CustomElement interface {
	Element
	CallMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
	Data(ctx context.Context, path string) (*structpb.Value, error)
	SetData(ctx context.Context, data *structpb.Struct) error
}

// ContextElement is a component backed by a context object (video).
type ContextElement interface {
	Element
	CallContextMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
}

// ScrollViewElement is a scroll-view.
type ScrollViewElement interface {
	Element
	ScrollWidth(ctx context.Context) (float64, error)
	ScrollHeight(ctx context.Context) (float64, error)
	ScrollTo(ctx context.Context, x, y float64) error
}

// SwiperElement is a swiper.
type SwiperElement interface {
	Element
	SwipeTo(ctx context.Context, index int) error
}

// MovableViewElement is a movable-view.
type MovableViewElement interface {
	Element
	MoveTo(ctx context.Context, x, y float64) error
}
