// Copyright 2025 Joseph Cumines

// Package logcapture retains the most recent console messages and uncaught
// exceptions pushed by an automation session.
//
// Each event kind has its own buffer and its own listener lifecycle:
//
//	Unattached --EnsureAttached--> Attached --Detach--> Unattached
//
// Attaching clears the kind's buffer and subscribes exactly once. Events are
// delivered on the session's reader goroutine while reads happen on request
// goroutines, so all state is guarded by one mutex.
package logcapture

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event kinds tracked by a Capture.
const (
	KindConsole   = automator.EventConsole
	KindException = automator.EventException
)

// DefaultLogType is the console type read when none is given.
const DefaultLogType = "log"

// ConsoleEntry is one captured console.* call.
type ConsoleEntry struct {
	Type string
	Args []*structpb.Value
	Time string
}

// String renders the entry as "HH:MM:SS type: arg1 arg2", each arg JSON encoded.
func (e ConsoleEntry) String() string {
	parts := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		parts = append(parts, encodeArg(a))
	}
	return fmt.Sprintf("%s %s: %s", e.Time, e.Type, strings.Join(parts, " "))
}

// ExceptionEntry is one captured uncaught exception.
type ExceptionEntry struct {
	Name  string
	Stack string
	Time  string
}

// String renders the entry as "HH:MM:SS name: stack".
func (e ExceptionEntry) String() string {
	return fmt.Sprintf("%s %s: %s", e.Time, e.Name, e.Stack)
}

func encodeArg(v *structpb.Value) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v.AsInterface())
	if err != nil {
		return fmt.Sprintf("%v", v.AsInterface())
	}
	return string(b)
}

// Subscriber is the part of an automation session a Capture listens to.
type Subscriber interface {
	On(kind string, handler func(automator.Event))
}

// ListenerState is the subscription lifecycle of one event kind.
type ListenerState int

const (
	// Unattached means no subscription exists for the current session.
	Unattached ListenerState = iota
	// Attached means exactly one subscription exists for the current session.
	Attached
)

func (s ListenerState) String() string {
	if s == Attached {
		return "attached"
	}
	return "unattached"
}

// Capture owns the console and exception buffers.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Capture struct {
	console    *Buffer[ConsoleEntry]
	exceptions *Buffer[ExceptionEntry]
	now        func() time.Time
	states     map[string]ListenerState
	// generation is bumped by Detach so handlers bound to a replaced session stop recording.
	generation uint64
	mu         sync.Mutex
}

// Option configures a Capture.
type Option func(*Capture)

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(c *Capture) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a Capture with both kinds Unattached and empty buffers.
func New(opts ...Option) *Capture {
	c := &Capture{
		console:    NewBuffer[ConsoleEntry](MaxLogs),
		exceptions: NewBuffer[ExceptionEntry](MaxLogs),
		now:        time.Now,
		states:     map[string]ListenerState{KindConsole: Unattached, KindException: Unattached},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureAttached subscribes to both event kinds on session. Kinds that are already
// Attached are left alone. A nil session is a no-op.
func (c *Capture) EnsureAttached(session Subscriber) {
	if session == nil {
		return
	}
	c.ensure(session, KindConsole)
	c.ensure(session, KindException)
}

func (c *Capture) ensure(session Subscriber, kind string) {
	c.mu.Lock()
	if c.states[kind] == Attached {
		c.mu.Unlock()
		return
	}
	c.states[kind] = Attached
	gen := c.generation
	switch kind {
	case KindConsole:
		c.console.Reset()
	case KindException:
		c.exceptions.Reset()
	}
	c.mu.Unlock()

	session.On(kind, func(ev automator.Event) { c.record(gen, ev) })
}

func (c *Capture) record(gen uint64, ev automator.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	ts := c.now().Format(time.TimeOnly)
	switch {
	case ev.Console != nil:
		c.console.Push(ConsoleEntry{Type: ev.Console.Type, Args: ev.Console.Args, Time: ts})
	case ev.Exception != nil:
		c.exceptions.Push(ExceptionEntry{Name: ev.Exception.Name, Stack: ev.Exception.Stack, Time: ts})
	}
}

// Detach returns both kinds to Unattached so the next EnsureAttached clears the
// buffers and subscribes to the new session. Buffered entries are kept until then.
func (c *Capture) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for kind := range c.states {
		c.states[kind] = Unattached
	}
}

// State reports the listener state of kind.
func (c *Capture) State(kind string) ListenerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[kind]
}

// ReadLogs returns up to limit console entries whose type equals logType exactly,
// oldest first. An empty logType reads DefaultLogType; a limit outside [1, MaxLogs]
// reads up to MaxLogs.
func (c *Capture) ReadLogs(logType string, limit int) []ConsoleEntry {
	if logType == "" {
		logType = DefaultLogType
	}
	limit = clampLimit(limit)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.console.Select(func(e ConsoleEntry) bool { return e.Type == logType }, limit)
}

// ReadExceptions returns up to limit exception entries, oldest first.
func (c *Capture) ReadExceptions(limit int) []ExceptionEntry {
	limit = clampLimit(limit)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceptions.Select(nil, limit)
}

// Clear empties the buffer of kind without changing its listener state.
func (c *Capture) Clear(kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindConsole:
		c.console.Reset()
	case KindException:
		c.exceptions.Reset()
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	return nil
}

// clampLimit treats an unset limit as MaxLogs.
func clampLimit(limit int) int {
	if limit < 1 {
		return MaxLogs
	}
	return min(limit, MaxLogs)
}
