// Copyright 2025 Joseph Cumines
//
// Automation session ownership and access

package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"github.com/joeycumines/miniprogram-mcp/internal/logcapture"
	"github.com/joeycumines/miniprogram-mcp/internal/server/tools"
	"github.com/joeycumines/miniprogram-mcp/internal/transport"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DialFunc opens a session to an automation endpoint.
type DialFunc func(ctx context.Context, endpoint string) (automator.Session, error)

// StartFunc starts the developer tool in automation mode.
type StartFunc func(ctx context.Context, opts automator.LaunchOptions) error

const (
	// probeTimeout bounds the check for an already running developer tool.
	probeTimeout = time.Second
	// dialInterval is the pause between connection attempts while the developer tool boots.
	dialInterval = 500 * time.Millisecond
)

// LauncherConfig configures a Launcher.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type LauncherConfig struct {
	Options automator.LaunchOptions
	// Timeout bounds a whole launch or connect. Defaults to 30s.
	Timeout time.Duration
	// CallTimeout bounds each automation call on sessions the default dialer opens.
	CallTimeout time.Duration
	Capture     *logcapture.Capture
	Metrics     *transport.MetricsRegistry
	Logger      *slog.Logger
	// Dial and Start default to automator.Connect and automator.StartDevTool.
	Dial  DialFunc
	Start StartFunc
}

// Launcher owns the long-lived automation session. It starts the developer tool
// when needed, attaches log capture to each new session, and forgets the session
// once its connection drops.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Launcher struct {
	cfg     LauncherConfig
	logger  *slog.Logger
	group   singleflight.Group
	session automator.Session
	mu      sync.Mutex
}

// NewLauncher fills in defaults for unset fields of cfg.
func NewLauncher(cfg LauncherConfig) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Capture == nil {
		cfg.Capture = logcapture.New()
	}
	if cfg.Dial == nil {
		callTimeout, logger := cfg.CallTimeout, cfg.Logger
		cfg.Dial = func(ctx context.Context, endpoint string) (automator.Session, error) {
			c, err := automator.Connect(ctx, endpoint, automator.WithCallTimeout(callTimeout), automator.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if cfg.Start == nil {
		cfg.Start = automator.StartDevTool
	}
	return &Launcher{cfg: cfg, logger: cfg.Logger}
}

// Endpoint is the automation endpoint sessions are opened against.
func (l *Launcher) Endpoint() string {
	return automator.Endpoint(l.cfg.Options.Port)
}

// Capture returns the log capture fed by held sessions.
func (l *Launcher) Capture() *logcapture.Capture {
	return l.cfg.Capture
}

// Session returns the held session, or nil.
func (l *Launcher) Session() automator.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Connected reports whether a session is held.
func (l *Launcher) Connected() bool {
	return l.Session() != nil
}

// Launch returns the held session, adopts a developer tool that is already
// listening, or starts one and waits for its automation port. Concurrent calls
// share one attempt, bounded by the launch timeout rather than by any caller's
// context. A cancelled caller stops waiting without failing the others.
func (l *Launcher) Launch(ctx context.Context) (automator.Session, error) {
	ch := l.group.DoChan("launch", func() (any, error) {
		return l.launch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(automator.Session), nil
	}
}

func (l *Launcher) launch(ctx context.Context) (sess automator.Session, err error) {
	if sess := l.Session(); sess != nil {
		return sess, nil
	}

	defer func() {
		if l.cfg.Metrics == nil {
			return
		}
		if err != nil {
			l.cfg.Metrics.RecordLaunch("error")
		} else {
			l.cfg.Metrics.RecordLaunch("ok")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	endpoint := l.Endpoint()
	if sess, err := l.dialOnce(ctx, endpoint, probeTimeout); err == nil {
		l.logger.Info("developer tool already running, reusing automation port", "endpoint", endpoint)
		l.adopt(sess)
		return sess, nil
	}

	l.logger.Info("starting developer tool", "project", l.cfg.Options.ProjectPath, "port", l.cfg.Options.Port)
	if err := l.cfg.Start(ctx, l.cfg.Options); err != nil {
		return nil, err
	}

	var lastErr error
	pollErr := tools.PollUntilContext(ctx, dialInterval, func() (bool, error) {
		s, err := l.dialOnce(ctx, endpoint, dialInterval*4)
		if err != nil {
			lastErr = err
			return false, nil
		}
		sess = s
		return true, nil
	})
	if pollErr != nil {
		msg := "timed out waiting for automation port " + endpoint
		if lastErr != nil {
			msg += ": " + status.Convert(lastErr).Message()
		}
		return nil, status.Error(codes.DeadlineExceeded, msg)
	}

	l.adopt(sess)
	l.logger.Info("automation session connected", "endpoint", endpoint)
	return sess, nil
}

// Connect attaches to a developer tool that is already listening, replacing any
// held session.
func (l *Launcher) Connect(ctx context.Context) (automator.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	sess, err := l.cfg.Dial(ctx, l.Endpoint())
	if err != nil {
		return nil, err
	}
	l.adopt(sess)
	return sess, nil
}

func (l *Launcher) dialOnce(ctx context.Context, endpoint string, timeout time.Duration) (automator.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.cfg.Dial(ctx, endpoint)
}

// adopt makes sess the held session and moves log capture over to it.
func (l *Launcher) adopt(sess automator.Session) {
	l.mu.Lock()
	old := l.session
	l.session = sess
	l.mu.Unlock()

	if old != nil && old != sess {
		l.cfg.Capture.Detach()
		if err := old.Close(); err != nil {
			l.logger.Debug("error closing replaced session", "error", err)
		}
	}

	l.cfg.Capture.EnsureAttached(sess)
	sess.On(automator.EventBindingCalled, func(ev automator.Event) {
		if ev.Binding != nil {
			l.logger.Info("exposed function called", "name", ev.Binding.Name, "args", len(ev.Binding.Args))
		}
	})
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SetSessionConnected(true)
	}

	if d, ok := sess.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			<-d.Done()
			l.forget(sess)
		}()
	}
}

// forget drops sess if it is still the held session.
func (l *Launcher) forget(sess automator.Session) {
	l.mu.Lock()
	if l.session != sess {
		l.mu.Unlock()
		return
	}
	l.session = nil
	l.mu.Unlock()

	l.cfg.Capture.Detach()
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SetSessionConnected(false)
	}
	l.logger.Warn("automation session disconnected", "endpoint", l.Endpoint())
}

// Close closes the held session.
func (l *Launcher) Close() error {
	l.mu.Lock()
	sess := l.session
	l.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := sess.Close()
	l.forget(sess)
	return err
}

// SessionAccessor hands tool handlers a session for the duration of one call.
type SessionAccessor interface {
	// Acquire returns a session and a release func that must be called once the
	// caller is done with it.
	Acquire(ctx context.Context) (automator.Session, func(), error)
}

// NewSessionAccessor returns the accessor for mode: "reconnect" dials per call,
// anything else uses the launcher's held session.
func NewSessionAccessor(mode string, l *Launcher) SessionAccessor {
	if mode == "reconnect" {
		return &reconnectAccessor{launcher: l}
	}
	return &ownedAccessor{launcher: l}
}

type ownedAccessor struct {
	launcher *Launcher
}

func (a *ownedAccessor) Acquire(ctx context.Context) (automator.Session, func(), error) {
	sess := a.launcher.Session()
	if sess == nil {
		return nil, nil, errLaunchFirst(nil)
	}
	return sess, func() {}, nil
}

type reconnectAccessor struct {
	launcher *Launcher
}

func (a *reconnectAccessor) Acquire(ctx context.Context) (automator.Session, func(), error) {
	sess, err := a.launcher.cfg.Dial(ctx, a.launcher.Endpoint())
	if err != nil {
		if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
			return nil, nil, err
		}
		return nil, nil, errLaunchFirst(err)
	}
	release := func() {
		if err := sess.Close(); err != nil {
			a.launcher.logger.Debug("error closing per-call session", "error", err)
		}
	}
	return sess, release, nil
}
