// Package http provides the synchronous control API: registry inspection
// and on-demand command dispatch over plain HTTP.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeDonChung/asset-management-iuh-sckt/broker"
	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
	"github.com/LeDonChung/asset-management-iuh-sckt/registry"
)

// RuntimeInfo is the sanitized runtime configuration reported by the
// environment endpoint.
type RuntimeInfo struct {
	Version         string
	Environment     string
	Port            int
	PingIntervalMS  int
	PingTimeoutMS   int
	AlertServiceURL string
	WarningsURL     string
}

// Gateway serves the control API over one identity broker.
type Gateway struct {
	config    Config
	broker    *broker.Broker
	info      RuntimeInfo
	logger    *slog.Logger
	startTime time.Time
}

// NewGateway creates a control API gateway. logger may be nil.
func NewGateway(cfg Config, b *broker.Broker, info RuntimeInfo, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:    cfg,
		broker:    b,
		info:      info,
		logger:    logger.With("component", "gateway"),
		startTime: time.Now(),
	}, nil
}

// RegisterHTTPHandlers registers all control API routes with the mux.
func (g *Gateway) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/devices", g.route(http.MethodGet, g.handleListDevices))
	mux.HandleFunc("/api/users", g.route(http.MethodGet, g.handleListUsers))
	mux.HandleFunc("/api/test-device", g.route(http.MethodPost, g.handleTestDevice))
	mux.HandleFunc("/api/capture-image", g.route(http.MethodPost, g.handleCaptureImage))
	mux.HandleFunc("/api/motion-scan", g.route(http.MethodPost, g.handleMotionScan))
	mux.HandleFunc("/api/status", g.route(http.MethodGet, g.handleStatus))
	mux.HandleFunc("/api/test-env", g.route(http.MethodGet, g.handleTestEnv))
	mux.HandleFunc("/health", g.route(http.MethodGet, g.handleHealth))
}

// route wraps a handler with request ID, CORS and method filtering.
func (g *Gateway) route(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		if g.config.EnableCORS {
			g.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if r.Method != method {
			g.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			return
		}

		handler(w, r)
	}
}

// applyCORS applies CORS headers for allowed origins.
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

type deviceView struct {
	DeviceID    string            `json:"deviceId"`
	ConnID      string            `json:"connId"`
	Type        string            `json:"type"`
	ConnectedAt time.Time         `json:"connectedAt"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Online      bool              `json:"online"`
}

type userView struct {
	UserID      string            `json:"userId"`
	ConnID      string            `json:"connId"`
	ConnectedAt time.Time         `json:"connectedAt"`
	UserInfo    map[string]string `json:"userInfo,omitempty"`
	Online      bool              `json:"online"`
}

func (g *Gateway) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	records := g.broker.Devices().Snapshot()
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	devices := make([]deviceView, 0, len(records))
	for _, rec := range records {
		devices = append(devices, deviceView{
			DeviceID:    rec.ID,
			ConnID:      rec.ConnID,
			Type:        rec.Category,
			ConnectedAt: rec.RegisteredAt,
			Attributes:  rec.Attributes,
			Online:      true,
		})
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"devices":       devices,
		"total":         len(devices),
		"devicesByType": g.devicesByType(),
	})
}

func (g *Gateway) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	records := g.broker.Users().Snapshot()
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	users := make([]userView, 0, len(records))
	for _, rec := range records {
		users = append(users, userView{
			UserID:      rec.ID,
			ConnID:      rec.ConnID,
			ConnectedAt: rec.RegisteredAt,
			UserInfo:    rec.Attributes,
			Online:      true,
		})
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
		"total":   len(users),
	})
}

func (g *Gateway) handleTestDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Message  string `json:"message"`
	}
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		g.writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	if req.Message == "" {
		req.Message = "test"
	}

	ok := g.broker.Router().SendTo(g.broker.Devices(), req.DeviceID, broker.EventTestMessage, map[string]any{
		"message":   req.Message,
		"timestamp": time.Now(),
		"from":      "server",
	})
	if !ok {
		available := make([]string, 0)
		for _, rec := range g.broker.Devices().Snapshot() {
			available = append(available, rec.ID)
		}
		sort.Strings(available)
		g.writeJSON(w, http.StatusNotFound, map[string]any{
			"success":          false,
			"message":          fmt.Sprintf("Device %s not found or not connected", req.DeviceID),
			"availableDevices": available,
		})
		return
	}

	rec, _ := g.broker.Devices().Lookup(req.DeviceID)
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Test message sent to %s", req.DeviceID),
		"deviceInfo": deviceView{
			DeviceID:    rec.ID,
			ConnID:      rec.ConnID,
			Type:        rec.Category,
			ConnectedAt: rec.RegisteredAt,
			Online:      true,
		},
	})
}

// captureOrder is the command sent to cameras triggered over the control API.
type captureOrder struct {
	Command   string `json:"command"`
	Source    string `json:"source"`
	RequestID string `json:"requestId"`
}

func (g *Gateway) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID string `json:"cameraId"`
		Source   string `json:"source"`
	}
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}

	order := captureOrder{Command: "capture", Source: req.Source, RequestID: uuid.NewString()}

	if req.CameraID != "" {
		rec, found := g.broker.Devices().Lookup(req.CameraID)
		switch {
		case !found:
			g.writeError(w, http.StatusNotFound,
				fmt.Sprintf("Camera %s not found", req.CameraID))
		case rec.Category != broker.CategoryCamera:
			g.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Device %s is not a camera (type: %s)", req.CameraID, rec.Category))
		case !g.broker.Router().SendTo(g.broker.Devices(), req.CameraID, broker.EventCaptureCommand, order):
			g.writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to send capture command to camera %s", req.CameraID))
		default:
			g.writeJSON(w, http.StatusOK, map[string]any{
				"success":  true,
				"message":  fmt.Sprintf("Capture command sent to camera %s", req.CameraID),
				"cameraId": req.CameraID,
				"source":   req.Source,
			})
		}
		return
	}

	cameras := g.broker.Devices().ListByCategory(broker.CategoryCamera)
	if len(cameras) == 0 {
		g.writeError(w, http.StatusNotFound, "No cameras connected")
		return
	}
	sent := g.broker.Router().Broadcast(g.broker.Devices(), broker.CategoryCamera,
		broker.EventCaptureCommand, func(registry.Record) any { return order })

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Capture command sent to %d/%d cameras", sent, len(cameras)),
		"devicesCount": sent,
		"source":       req.Source,
	})
}

// scanOrder is the command sent to RFID readers triggered over the control
// API. The camera ID names the camera that should document the scan.
type scanOrder struct {
	Duration int    `json:"duration"`
	DeviceID string `json:"deviceId"`
	CameraID string `json:"cameraId"`
}

func (g *Gateway) handleMotionScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RFIDID   string `json:"rfidId"`
		CameraID string `json:"cameraId"`
		Duration int    `json:"duration"`
	}
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.Duration <= 0 {
		req.Duration = broker.DefaultScanDurationMS
	}
	camera := req.CameraID
	if camera == "" {
		camera = "manual"
	}
	order := scanOrder{Duration: req.Duration, DeviceID: camera, CameraID: camera}

	if req.RFIDID != "" {
		rec, found := g.broker.Devices().Lookup(req.RFIDID)
		switch {
		case !found:
			g.writeError(w, http.StatusNotFound,
				fmt.Sprintf("RFID device %s not found", req.RFIDID))
		case rec.Category != broker.CategoryRFID:
			g.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Device %s is not an RFID device (type: %s)", req.RFIDID, rec.Category))
		case !g.broker.Router().SendTo(g.broker.Devices(), req.RFIDID, broker.EventReceiveMotionScan, order):
			g.writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to send motion scan command to RFID %s", req.RFIDID))
		default:
			g.writeJSON(w, http.StatusOK, map[string]any{
				"success":  true,
				"message":  fmt.Sprintf("Motion scan command sent to RFID %s", req.RFIDID),
				"rfidId":   req.RFIDID,
				"duration": req.Duration,
			})
		}
		return
	}

	readers := g.broker.Devices().ListByCategory(broker.CategoryRFID)
	if len(readers) == 0 {
		g.writeError(w, http.StatusNotFound, "No RFID devices connected")
		return
	}
	sent := g.broker.Router().Broadcast(g.broker.Devices(), broker.CategoryRFID,
		broker.EventReceiveMotionScan, func(registry.Record) any { return order })

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Motion scan command sent to %d/%d RFID devices", sent, len(readers)),
		"devicesCount": sent,
		"duration":     req.Duration,
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"server":           "IoT Bridge",
		"version":          g.info.Version,
		"uptime":           time.Since(g.startTime).Seconds(),
		"connectedDevices": g.broker.Devices().Len(),
		"connectedUsers":   g.broker.Users().Len(),
		"devicesByType":    g.devicesByType(),
		"timestamp":        time.Now(),
	})
}

func (g *Gateway) handleTestEnv(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Environment configuration",
		"environment": map[string]any{
			"apiBaseUrl":   g.info.AlertServiceURL,
			"port":         g.info.Port,
			"pingInterval": g.info.PingIntervalMS,
			"pingTimeout":  g.info.PingTimeoutMS,
			"environment":  g.info.Environment,
		},
		"constructedApiUrl": g.info.WarningsURL,
		"timestamp":         time.Now(),
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now(),
	})
}

// devicesByType counts devices per known category.
func (g *Gateway) devicesByType() map[string]int {
	counts := g.broker.Devices().CountByCategory()
	return map[string]int{
		broker.CategoryCamera:  counts[broker.CategoryCamera],
		broker.CategoryRFID:    counts[broker.CategoryRFID],
		broker.CategoryArduino: counts[broker.CategoryArduino],
	}
}

// decodeBody decodes a size-limited JSON request body. A false return means
// the error response is already written.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, out); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("response write failed", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.writeJSON(w, statusCode, map[string]any{
		"success": false,
		"message": message,
	})
}

// Server runs the control API on its own listener.
type Server struct {
	port   int
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a control API server. handler is the full route set,
// typically a mux holding the gateway routes plus the websocket upgrade
// path.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		port:   cfg.Port,
		logger: logger.With("component", "gateway"),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Server", "Start",
			"server already stopped")
	}

	s.logger.Info("control API listening", "port", s.port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to serve on port %d", s.port))
	}
	return nil
}

// Stop shuts the control API down, waiting up to timeout for in-flight
// requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown control API")
	}
	return nil
}
