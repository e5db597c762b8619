package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
)

// recordingHandler captures dispatched events on channels.
type recordingHandler struct {
	connects    chan string
	disconnects chan string
	events      chan receivedEvent
}

type receivedEvent struct {
	connID  string
	event   string
	payload json.RawMessage
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connects:    make(chan string, 8),
		disconnects: make(chan string, 8),
		events:      make(chan receivedEvent, 8),
	}
}

func (r *recordingHandler) HandleConnect(connID string) {
	r.connects <- connID
}

func (r *recordingHandler) HandleEvent(_ context.Context, connID, event string, payload json.RawMessage) {
	r.events <- receivedEvent{connID: connID, event: event, payload: payload}
}

func (r *recordingHandler) HandleDisconnect(connID string) {
	r.disconnects <- connID
}

func startHub(t *testing.T, handler Handler) (*Hub, *httptest.Server) {
	t.Helper()

	hub, err := NewHub(DefaultConfig(), handler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))

	mux := http.NewServeMux()
	mux.HandleFunc(hub.Path(), hub.HandleUpgrade)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		_ = hub.Stop(2 * time.Second)
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/socket"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
		panic("unreachable")
	}
}

func TestHub_ConnectAndDisconnect(t *testing.T) {
	handler := newRecordingHandler()
	hub, server := startHub(t, handler)

	ws := dial(t, server)

	connID := waitFor(t, handler.connects, "connect")
	assert.NotEmpty(t, connID)
	assert.Equal(t, 1, hub.ConnCount())

	require.NoError(t, ws.Close())

	gone := waitFor(t, handler.disconnects, "disconnect")
	assert.Equal(t, connID, gone)
}

func TestHub_DispatchesInboundEnvelopes(t *testing.T) {
	handler := newRecordingHandler()
	_, server := startHub(t, handler)

	ws := dial(t, server)
	connID := waitFor(t, handler.connects, "connect")

	msg := `{"event":"register","payload":{"deviceId":"cam1","deviceType":"camera"}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))

	got := waitFor(t, handler.events, "event")
	assert.Equal(t, connID, got.connID)
	assert.Equal(t, "register", got.event)
	assert.JSONEq(t, `{"deviceId":"cam1","deviceType":"camera"}`, string(got.payload))
}

func TestHub_IgnoresMalformedEnvelopes(t *testing.T) {
	handler := newRecordingHandler()
	_, server := startHub(t, handler)

	ws := dial(t, server)
	waitFor(t, handler.connects, "connect")

	// Garbage, then an envelope without an event name: both skipped,
	// connection stays open
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping_check"}`)))

	got := waitFor(t, handler.events, "event")
	assert.Equal(t, "ping_check", got.event)
}

func TestHub_SendDeliversToClient(t *testing.T) {
	handler := newRecordingHandler()
	hub, server := startHub(t, handler)

	ws := dial(t, server)
	connID := waitFor(t, handler.connects, "connect")

	err := hub.Send(connID, "test_message", map[string]string{"message": "hello"})
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "test_message", env.Event)
	assert.JSONEq(t, `{"message":"hello"}`, string(env.Payload))
}

func TestHub_RegisterMetricsTracksPayloadBytes(t *testing.T) {
	handler := newRecordingHandler()

	hub, err := NewHub(DefaultConfig(), handler, nil, nil)
	require.NoError(t, err)

	registry := metric.NewMetricsRegistry()
	require.NoError(t, hub.RegisterMetrics(registry))
	require.NoError(t, hub.Start(context.Background()))

	mux := http.NewServeMux()
	mux.HandleFunc(hub.Path(), hub.HandleUpgrade)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = hub.Stop(2 * time.Second)
	})

	ws := dial(t, server)
	connID := waitFor(t, handler.connects, "connect")

	inbound := `{"event":"register","payload":{"deviceId":"cam1"}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(inbound)))
	waitFor(t, handler.events, "event")

	require.NoError(t, hub.Send(connID, "test_message", map[string]string{"message": "hi"}))

	in := testutil.ToFloat64(hub.hubMetrics.payloadBytes.WithLabelValues("in"))
	out := testutil.ToFloat64(hub.hubMetrics.payloadBytes.WithLabelValues("out"))
	assert.Equal(t, float64(len(inbound)), in)
	assert.Greater(t, out, 0.0)
}

func TestHub_RegisterMetricsNilRegistryDisabled(t *testing.T) {
	hub, err := NewHub(DefaultConfig(), newRecordingHandler(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, hub.RegisterMetrics(nil))
	assert.Nil(t, hub.hubMetrics)
}

func TestHub_SendToUnknownSession(t *testing.T) {
	handler := newRecordingHandler()
	hub, _ := startHub(t, handler)

	err := hub.Send("no-such-conn", "test_message", nil)
	assert.Error(t, err)
}

func TestHub_StopClosesSessions(t *testing.T) {
	handler := newRecordingHandler()

	hub, err := NewHub(DefaultConfig(), handler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))

	mux := http.NewServeMux()
	mux.HandleFunc(hub.Path(), hub.HandleUpgrade)
	server := httptest.NewServer(mux)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/socket"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	waitFor(t, handler.connects, "connect")

	require.NoError(t, hub.Stop(2*time.Second))
	assert.Equal(t, 0, hub.ConnCount())

	// Client observes the close
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default is valid", func(*Config) {}, false},
		{"empty path", func(c *Config) { c.Path = "" }, true},
		{"relative path", func(c *Config) { c.Path = "socket" }, true},
		{"zero ping interval", func(c *Config) { c.PingIntervalMS = 0 }, true},
		{"zero ping timeout", func(c *Config) { c.PingTimeoutMS = 0 }, true},
		{"zero max message size", func(c *Config) { c.MaxMessageSize = 0 }, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigAllowsOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}

	assert.True(t, cfg.allowsOrigin("http://localhost:3000"))
	assert.False(t, cfg.allowsOrigin("http://evil.example"))

	cfg.AllowedOrigins = []string{"*"}
	assert.True(t, cfg.allowsOrigin("http://anywhere.example"))

	cfg.AllowedOrigins = nil
	assert.True(t, cfg.allowsOrigin("http://anywhere.example"))
}
