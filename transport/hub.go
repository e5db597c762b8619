// Package transport maintains full-duplex, event-framed websocket sessions.
// Each connection gets an opaque connection ID; inbound envelopes are
// dispatched to a Handler, and the hub is the one-way send primitive the
// router delivers through.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
)

// Envelope frames every message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives transport lifecycle notifications and inbound events.
// HandleEvent runs on the connection's reader goroutine; implementations
// must hand long-running work to their own goroutines.
type Handler interface {
	HandleConnect(connID string)
	HandleEvent(ctx context.Context, connID, event string, payload json.RawMessage)
	HandleDisconnect(connID string)
}

// session is one live websocket connection. Writes are serialized by
// writeMu; gorilla/websocket allows at most one concurrent writer.
type session struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Hub owns all live websocket sessions.
type Hub struct {
	config     Config
	handler    Handler
	logger     *slog.Logger
	metrics    *metric.Metrics
	hubMetrics *hubMetrics
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	// Lifecycle management
	shutdown     chan struct{}
	shutdownOnce sync.Once
	started      atomic.Bool
	lifecycleMu  sync.Mutex
	cancel       context.CancelFunc
	ctx          context.Context
	wg           sync.WaitGroup
}

// NewHub creates a websocket hub dispatching to handler. metrics may be
// nil. handler may be nil at construction to break the hub/handler
// dependency cycle, but must be set via SetHandler before Start.
func NewHub(config Config, handler Handler, logger *slog.Logger, metrics *metric.Metrics) (*Hub, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		config:   config,
		handler:  handler,
		logger:   logger.With("component", "hub"),
		metrics:  metrics,
		sessions: make(map[string]*session),
		shutdown: make(chan struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return config.allowsOrigin(r.Header.Get("Origin"))
		},
	}

	return h, nil
}

// SetHandler binds the event handler. It must be called before Start and
// has no effect on sessions already running.
func (h *Hub) SetHandler(handler Handler) {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	h.handler = handler
}

// Start marks the hub ready to accept upgrades.
func (h *Hub) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Hub", "Start", "check started state")
	}
	if h.handler == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Hub", "Start", "handler is required")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started.Store(true)
	return nil
}

// Stop closes all sessions and waits for reader goroutines.
func (h *Hub) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.started.Load() {
		return nil
	}

	h.shutdownOnce.Do(func() {
		close(h.shutdown)
	})
	h.cancel()

	// Close all live sessions; readers exit on the closed connection
	h.mu.Lock()
	for _, s := range h.sessions {
		_ = s.ws.Close()
	}
	h.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		// Clean shutdown
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Hub", "Stop", "wait for readers")
	}

	h.started.Store(false)
	return nil
}

// Path returns the configured websocket endpoint path.
func (h *Hub) Path() string {
	return h.config.Path
}

// ConnCount returns the number of live sessions.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleUpgrade upgrades an HTTP request to a websocket session. Mount it on
// the server mux at Config.Path.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !h.started.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		h.trackError("upgrade_error")
		return
	}

	s := &session{
		id: uuid.NewString(),
		ws: ws,
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordConnectionOpened()
	}
	h.logger.Info("session connected", "conn_id", s.id, "remote", r.RemoteAddr)

	h.handler.HandleConnect(s.id)

	h.wg.Add(2)
	go h.readLoop(h.ctx, s)
	go h.pingLoop(s)
}

// Send delivers one event envelope to a session. It returns an error when
// the session is gone or the write fails; hand-off success carries no
// delivery confirmation.
func (h *Hub) Send(connID, event string, payload any) error {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		return errors.WrapTransient(errors.ErrNoConnection, "Hub", "Send",
			fmt.Sprintf("session %s", connID))
	}

	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.WrapInvalid(err, "Hub", "Send", "marshal payload")
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Hub", "Send", "marshal envelope")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(time.Duration(h.config.PingTimeoutMS) * time.Millisecond)
	_ = s.ws.SetWriteDeadline(deadline)
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		h.trackError("write_error")
		return errors.WrapTransient(err, "Hub", "Send", fmt.Sprintf("write to session %s", connID))
	}
	h.hubMetrics.recordOutbound(len(data))
	return nil
}

// readLoop reads envelopes from one session until it closes.
func (h *Hub) readLoop(ctx context.Context, s *session) {
	defer h.wg.Done()
	defer h.closeSession(s)

	pongWait := time.Duration(h.config.PingIntervalMS+h.config.PingTimeoutMS) * time.Millisecond

	s.ws.SetReadLimit(h.config.MaxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("session read error", "conn_id", s.id, "error", err)
				h.trackError("read_error")
			}
			return
		}

		h.hubMetrics.recordInbound(len(message))

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			h.logger.Warn("invalid envelope", "conn_id", s.id, "error", err)
			h.trackError("parse_error")
			continue
		}
		if env.Event == "" {
			h.logger.Warn("envelope missing event name", "conn_id", s.id)
			h.trackError("parse_error")
			continue
		}

		if h.metrics != nil {
			h.metrics.RecordEventReceived(env.Event)
		}

		h.handler.HandleEvent(ctx, s.id, env.Event, env.Payload)
	}
}

// pingLoop keeps one session alive with periodic pings.
func (h *Hub) pingLoop(s *session) {
	defer h.wg.Done()

	interval := time.Duration(h.config.PingIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Duration(h.config.PingTimeoutMS) * time.Millisecond)
			if err := s.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
			h.hubMetrics.recordPing()
		}
	}
}

// closeSession removes a session and notifies the handler exactly once.
func (h *Hub) closeSession(s *session) {
	_ = s.ws.Close()

	h.mu.Lock()
	_, present := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()

	if !present {
		return
	}

	if h.metrics != nil {
		h.metrics.RecordConnectionClosed()
	}
	h.logger.Info("session disconnected", "conn_id", s.id)

	h.handler.HandleDisconnect(s.id)
}

func (h *Hub) trackError(errorType string) {
	if h.metrics != nil {
		h.metrics.RecordError("hub", errorType)
	}
}
