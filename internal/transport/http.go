// Copyright 2025 Joseph Cumines
//
// HTTP/SSE transport for JSON-RPC 2.0 communication

package transport

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPTransportConfig holds configuration for HTTP transport.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type HTTPTransportConfig struct {
	// Address is the TCP listen address, e.g. ":8080".
	Address string
	// SocketPath, if set, listens on a Unix socket instead of Address.
	SocketPath string
	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string
	// HeartbeatInterval between SSE comment pings. Defaults to 15s.
	HeartbeatInterval time.Duration
	// ReadTimeout defaults to 30s.
	ReadTimeout time.Duration
	// WriteTimeout defaults to 0 since SSE streams are long-lived.
	WriteTimeout time.Duration
	// RateLimit in requests per second; 0 disables limiting.
	RateLimit float64
	// APIKey, if set, is required as "Authorization: Bearer <key>" on every
	// endpoint except /health.
	APIKey string
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
	// Health, if set, contributes fields to the /health response.
	Health func() map[string]any
	// Metrics is served on /metrics and records SSE activity. May be nil.
	Metrics *MetricsRegistry
	Logger  *slog.Logger
}

// DefaultHTTPConfig returns default HTTP transport configuration
func DefaultHTTPConfig() *HTTPTransportConfig {
	return &HTTPTransportConfig{
		Address:           ":8080",
		HeartbeatInterval: 15 * time.Second,
		CORSOrigin:        "*",
		ReadTimeout:       30 * time.Second,
	}
}

// HTTPTransport serves JSON-RPC over POST /message and mirrors every response to
// clients streaming GET /events.
type HTTPTransport struct {
	config     *HTTPTransportConfig
	server     *http.Server
	handler    atomic.Pointer[Handler]
	clients    *ClientRegistry
	logger     *slog.Logger
	shutdownCh chan struct{}
	eventID    atomic.Uint64
	closed     atomic.Bool
}

// ClientRegistry manages connected SSE clients
type ClientRegistry struct {
	clients    map[string]*SSEClient
	eventStore *EventStore
	logger     *slog.Logger
	mu         sync.RWMutex
	nextID     atomic.Uint64
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ResponseChan chan *SSEEvent
	CreatedAt    time.Time
	ID           string
	LastEventID  string
}

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	ID    string
	Event string
	Data  string
}

// EventStore keeps the most recent events so reconnecting clients can catch up
// from their Last-Event-ID.
type EventStore struct {
	index   map[string]int
	events  []*SSEEvent
	offset  int // number of events evicted so far
	mu      sync.RWMutex
	maxSize int
}

// NewEventStore creates a new event store
func NewEventStore(maxSize int) *EventStore {
	return &EventStore{
		events:  make([]*SSEEvent, 0, maxSize),
		maxSize: maxSize,
		index:   make(map[string]int),
	}
}

// Add appends event, evicting the oldest when full.
func (s *EventStore) Add(event *SSEEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		delete(s.index, s.events[0].ID)
		s.events = s.events[1:]
		s.offset++
	}
	s.index[event.ID] = s.offset + len(s.events)
	s.events = append(s.events, event)
}

// GetSince returns events after lastEventID, or nil if it is unknown.
func (s *EventStore) GetSince(lastEventID string) []*SSEEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[lastEventID]
	if !ok {
		return nil
	}
	return slices.Clone(s.events[pos-s.offset+1:])
}

// NewClientRegistry creates a new client registry
func NewClientRegistry(logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientRegistry{
		clients:    make(map[string]*SSEClient),
		eventStore: NewEventStore(1000),
		logger:     logger,
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(lastEventID string) *SSEClient {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("client-%d", r.nextID.Add(1))
	client := &SSEClient{
		ID:           id,
		ResponseChan: make(chan *SSEEvent, 100),
		CreatedAt:    time.Now(),
		LastEventID:  lastEventID,
	}
	r.clients[id] = client
	return client
}

// Remove removes a client from the registry
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[id]; ok {
		close(client.ResponseChan)
		delete(r.clients, id)
	}
}

// Broadcast stores event and queues it for every client. Clients with a full
// buffer miss the event.
func (r *ClientRegistry) Broadcast(event *SSEEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.eventStore.Add(event)

	for _, client := range r.clients {
		select {
		case client.ResponseChan <- event:
		default:
			r.logger.Warn("dropping SSE event, client buffer full", "event_id", event.ID, "client", client.ID)
		}
	}
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// NewHTTPTransport creates a new HTTP/SSE transport
func NewHTTPTransport(config *HTTPTransportConfig) *HTTPTransport {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &HTTPTransport{
		config:     config,
		clients:    NewClientRegistry(logger),
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/message", t.handleMessage)
	mux.HandleFunc("/events", t.handleSSE)
	mux.HandleFunc("/health", t.handleHealth)
	mux.HandleFunc("/metrics", t.handleMetrics)

	limiter := NewRateLimiter(config.RateLimit, nil)
	t.server = &http.Server{
		Handler:      t.corsMiddleware(t.authMiddleware(RateLimitMiddleware(limiter, mux))),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	if t.IsTLSEnabled() {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return t
}

// Handler returns the root HTTP handler, including middleware.
func (t *HTTPTransport) Handler() http.Handler {
	return t.server.Handler
}

// SetHandler installs the message handler without starting a listener.
func (t *HTTPTransport) SetHandler(handler Handler) {
	t.handler.Store(&handler)
}

func (t *HTTPTransport) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", t.config.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware rejects requests without the configured bearer token. It is a
// pass-through when no APIKey is set. /health stays open for liveness probes.
func (t *HTTPTransport) authMiddleware(next http.Handler) http.Handler {
	if t.config.APIKey == "" {
		return next
	}
	want := []byte("Bearer " + t.config.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="miniprogram-mcp"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsTLSEnabled reports whether both a certificate and a key are configured.
func (t *HTTPTransport) IsTLSEnabled() bool {
	return t.config.TLSCertFile != "" && t.config.TLSKeyFile != ""
}

// handleMessage handles POST /message. Notifications get 202 with no body.
func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var response *Message
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		response = NewErrorResponse(nil, ErrCodeParseError, fmt.Sprintf("invalid JSON: %v", err))
	} else {
		h := t.handler.Load()
		if h == nil {
			http.Error(w, "Handler not set", http.StatusServiceUnavailable)
			return
		}
		var herr error
		response, herr = (*h)(r.Context(), &msg)
		if herr != nil {
			t.logger.Error("error handling message", "method", msg.Method, "error", herr)
			response = NewErrorResponse(msg.ID, ErrCodeInternalError, herr.Error())
		}
	}

	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(data, '\n')); err != nil {
		t.logger.Warn("error writing response", "error", err)
	}

	t.broadcast(string(data))
}

func (t *HTTPTransport) broadcast(data string) {
	t.clients.Broadcast(&SSEEvent{
		ID:    strconv.FormatUint(t.eventID.Add(1), 10),
		Event: "message",
		Data:  data,
	})
}

// handleSSE handles GET /events, replaying events after Last-Event-ID first.
func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastEventID := r.Header.Get("Last-Event-ID")
	client := t.clients.Add(lastEventID)
	t.recordConnections()
	defer func() {
		t.clients.Remove(client.ID)
		t.recordConnections()
	}()

	logger := t.logger.With("client", client.ID)
	logger.Info("SSE client connected")

	for _, event := range t.clients.eventStore.GetSince(lastEventID) {
		if err := t.writeEvent(w, event); err != nil {
			logger.Warn("SSE replay write failed", "error", err)
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(t.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("SSE client disconnected")
			return
		case <-t.shutdownCh:
			_, _ = io.WriteString(w, "event: complete\ndata: server shutdown\n\n")
			flusher.Flush()
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				logger.Warn("SSE heartbeat write failed", "error", err)
				return
			}
			flusher.Flush()
		case event, ok := <-client.ResponseChan:
			if !ok {
				return
			}
			if err := t.writeEvent(w, event); err != nil {
				logger.Warn("SSE write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (t *HTTPTransport) writeEvent(w io.Writer, event *SSEEvent) error {
	if err := writeSSEEvent(w, event); err != nil {
		return err
	}
	if t.config.Metrics != nil {
		t.config.Metrics.RecordSSEEvent()
	}
	return nil
}

func (t *HTTPTransport) recordConnections() {
	if t.config.Metrics != nil {
		t.config.Metrics.SetSSEConnections(t.clients.Count())
	}
}

// writeSSEEvent writes event with every line of its data prefixed by "data: ".
func writeSSEEvent(w io.Writer, event *SSEEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nevent: %s\n", event.ID, event.Event)
	for _, line := range strings.Split(event.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// handleHealth handles GET /health
func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := map[string]any{}
	if t.config.Health != nil {
		for k, v := range t.config.Health() {
			body[k] = v
		}
	}
	body["status"] = "ok"
	body["clients"] = t.clients.Count()
	body["server_time"] = time.Now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.logger.Warn("error encoding health response", "error", err)
	}
}

// handleMetrics handles GET /metrics
func (t *HTTPTransport) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if t.config.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := t.config.Metrics.WritePrometheus(w); err != nil {
		t.logger.Warn("error writing metrics", "error", err)
	}
}

// Serve listens and serves until ctx is cancelled or Close is called.
func (t *HTTPTransport) Serve(ctx context.Context, handler Handler) error {
	t.SetHandler(handler)

	listener, err := t.listen()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		if err := t.Close(); err != nil {
			t.logger.Warn("error closing HTTP transport", "error", err)
		}
	})
	defer stop()

	if t.IsTLSEnabled() {
		err = t.server.ServeTLS(listener, t.config.TLSCertFile, t.config.TLSKeyFile)
	} else {
		err = t.server.Serve(listener)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *HTTPTransport) listen() (net.Listener, error) {
	if path := t.config.SocketPath; path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove stale socket", "path", path, "error", err)
		}
		l, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket %s: %w", path, err)
		}
		t.logger.Info("HTTP/SSE transport listening", "address", "unix:"+path)
		return l, nil
	}
	l, err := net.Listen("tcp", t.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", t.config.Address, err)
	}
	t.logger.Info("HTTP/SSE transport listening", "address", l.Addr().String())
	return l, nil
}

// WriteMessage broadcasts a message to all connected SSE clients
func (t *HTTPTransport) WriteMessage(msg *Message) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.broadcast(string(data))
	return nil
}

// Close shuts the server down, ending open SSE streams.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if path := t.config.SocketPath; path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove socket file", "path", path, "error", err)
		}
	}
	return nil
}

// IsClosed returns whether the transport is closed
func (t *HTTPTransport) IsClosed() bool {
	return t.closed.Load()
}
