// Package broker implements the event protocol between devices, user
// sessions and the alert backend. It owns the two identity tables, decodes
// inbound events from the transport and drives routing, warning checks and
// capture uploads.
package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LeDonChung/asset-management-iuh-sckt/alertservice"
	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
	"github.com/LeDonChung/asset-management-iuh-sckt/mirror"
	"github.com/LeDonChung/asset-management-iuh-sckt/registry"
	"github.com/LeDonChung/asset-management-iuh-sckt/router"
)

// AlertService is the alert backend surface the broker depends on.
// *alertservice.Client satisfies it.
type AlertService interface {
	FetchWarnings(ctx context.Context, tags []string) ([]alertservice.RFIDWarning, error)
	BulkCreateAlerts(ctx context.Context, entries []alertservice.AlertEntry) ([]alertservice.CreatedAlert, error)
	AttachImage(ctx context.Context, image []byte, alertIDs []string) error
}

// Broker wires the identity tables, router, alert backend and event mirror
// behind the transport handler interface.
type Broker struct {
	devices *registry.Table
	users   *registry.Table
	router  *router.Router
	sender  router.Sender
	alerts  AlertService
	mirror  mirror.Publisher
	logger  *slog.Logger
	metrics *metric.Metrics

	wg sync.WaitGroup
}

// New creates a broker. alerts, pub and metrics may be nil; a nil pub
// disables mirroring and a nil alerts disables the warning and capture
// handlers.
func New(devices, users *registry.Table, rt *router.Router, sender router.Sender,
	alerts AlertService, pub mirror.Publisher, logger *slog.Logger, metrics *metric.Metrics) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = mirror.Nop{}
	}
	return &Broker{
		devices: devices,
		users:   users,
		router:  rt,
		sender:  sender,
		alerts:  alerts,
		mirror:  pub,
		logger:  logger.With("component", "broker"),
		metrics: metrics,
	}
}

// Devices returns the device identity table.
func (b *Broker) Devices() *registry.Table { return b.devices }

// Users returns the user identity table.
func (b *Broker) Users() *registry.Table { return b.users }

// Router returns the event router.
func (b *Broker) Router() *router.Router { return b.router }

// HandleConnect implements transport.Handler. Sessions carry no identity
// until a register event arrives, so there is nothing to record yet.
func (b *Broker) HandleConnect(connID string) {
	b.logger.Debug("session connected", "conn_id", connID)
}

// HandleDisconnect removes every identity the session backed, in both tables.
func (b *Broker) HandleDisconnect(connID string) {
	for _, rec := range b.devices.UnregisterConn(connID) {
		b.logger.Info("device disconnected", "device_id", rec.ID, "category", rec.Category)
	}
	for _, rec := range b.users.UnregisterConn(connID) {
		b.logger.Info("user disconnected", "user_id", rec.ID)
	}
}

// HandleEvent dispatches one inbound event. It runs on the connection's
// reader goroutine; handlers that call the alert backend hand the work to
// their own goroutines.
func (b *Broker) HandleEvent(ctx context.Context, connID, event string, payload json.RawMessage) {
	b.mirror.Publish(event, payload)

	switch event {
	case EventRegisterDevice:
		b.handleRegisterDevice(connID, payload)
	case EventRegisterUser:
		b.handleRegisterUser(connID, payload)
	case EventRequestCapture:
		b.handleRequestCapture(payload)
	case EventStartMotionScan:
		b.handleStartMotionScan(payload)
	case EventStopBuzzer:
		b.handleStopBuzzer(payload)
	case EventCheckRFIDWarning:
		b.handleWarningCheck(ctx, connID, payload)
	case EventCaptureReceived:
		b.handleCaptureReceived(ctx, payload)
	default:
		b.logger.Debug("unknown event ignored", "event", event, "conn_id", connID)
	}
}

func (b *Broker) trackError(errorType string) {
	if b.metrics != nil {
		b.metrics.RecordError("broker", errorType)
	}
}

// Wait blocks until all in-flight warning checks and capture uploads finish
// or the timeout elapses.
func (b *Broker) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (b *Broker) handleRegisterDevice(connID string, payload json.RawMessage) {
	var reg DeviceRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		b.logger.Warn("malformed device registration", "conn_id", connID, "error", err)
		b.trackError("malformed_payload")
		return
	}
	if reg.DeviceID == "" {
		b.logger.Warn("device registration missing deviceId", "conn_id", connID)
		return
	}

	category := strings.ToLower(reg.Category())
	attrs := map[string]string{}
	if reg.DeviceType != "" {
		attrs["deviceType"] = reg.DeviceType
	}
	if reg.Type != "" {
		attrs["type"] = reg.Type
	}

	if err := b.devices.Register(reg.DeviceID, category, attrs, connID); err != nil {
		b.logger.Warn("device registration rejected", "device_id", reg.DeviceID, "error", err)
	}
}

func (b *Broker) handleRegisterUser(connID string, payload json.RawMessage) {
	var reg UserRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		b.logger.Warn("malformed user registration", "conn_id", connID, "error", err)
		b.trackError("malformed_payload")
		return
	}
	if reg.UserID == "" {
		b.ack(connID, RegistrationAck{Success: false, Message: "userId is required"})
		return
	}

	attrs := map[string]string{}
	if reg.Username != "" {
		attrs["username"] = reg.Username
	}
	if reg.Email != "" {
		attrs["email"] = reg.Email
	}
	if reg.Role != "" {
		attrs["role"] = reg.Role
	}

	if err := b.users.Register(reg.UserID, reg.Role, attrs, connID); err != nil {
		b.logger.Warn("user registration rejected", "user_id", reg.UserID, "error", err)
		b.ack(connID, RegistrationAck{Success: false, UserID: reg.UserID, Message: "registration failed"})
		return
	}
	b.ack(connID, RegistrationAck{Success: true, UserID: reg.UserID, Message: "User registered successfully"})
}

func (b *Broker) ack(connID string, ack RegistrationAck) {
	if err := b.sender.Send(connID, EventUserRegistered, ack); err != nil {
		b.logger.Warn("registration ack failed", "conn_id", connID, "error", err)
	}
}

func (b *Broker) handleRequestCapture(payload json.RawMessage) {
	var req CaptureRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("malformed capture request", "error", err)
		b.trackError("malformed_payload")
		return
	}
	if req.DeviceReceive == "" {
		b.logger.Warn("capture request missing deviceReceive")
		return
	}

	if !b.checkDeviceCategory(req.DeviceReceive, CategoryCamera, EventRequestCapture) {
		return
	}
	alertIDs := req.AlertIDs
	if alertIDs == nil {
		alertIDs = []string{}
	}
	b.router.SendTo(b.devices, req.DeviceReceive, EventReceiveCapture, CaptureCommand{
		DeviceID: req.DeviceReceive,
		AlertIDs: alertIDs,
	})
}

func (b *Broker) handleStartMotionScan(payload json.RawMessage) {
	var req MotionScanRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("malformed motion scan request", "error", err)
		b.trackError("malformed_payload")
		return
	}
	if req.DeviceReceive == "" {
		b.logger.Warn("motion scan request missing deviceReceive")
		return
	}

	if !b.checkDeviceCategory(req.DeviceReceive, CategoryRFID, EventStartMotionScan) {
		return
	}
	duration := req.DurationMS
	if duration <= 0 {
		duration = DefaultScanDurationMS
	}
	b.router.SendTo(b.devices, req.DeviceReceive, EventReceiveMotionScan, MotionScanCommand{
		Duration: duration,
		DeviceID: req.DeviceReceive,
	})
}

func (b *Broker) handleStopBuzzer(payload json.RawMessage) {
	// The payload is a bare device ID string.
	var deviceID string
	if err := json.Unmarshal(payload, &deviceID); err != nil {
		b.logger.Warn("malformed stop buzzer request", "error", err)
		b.trackError("malformed_payload")
		return
	}
	if deviceID == "" {
		b.logger.Warn("stop buzzer request missing device id")
		return
	}
	b.router.SendTo(b.devices, deviceID, EventReceiveStopBuzzer, StopBuzzerCommand{DeviceID: deviceID})
}

// checkDeviceCategory verifies the target exists and carries the expected
// category. Mismatches are logged and drop the event.
func (b *Broker) checkDeviceCategory(deviceID, category, event string) bool {
	rec, ok := b.devices.Lookup(deviceID)
	if !ok {
		b.logger.Warn("target device not connected", "device_id", deviceID, "event", event)
		return false
	}
	if rec.Category != category {
		b.logger.Warn("target device has wrong category",
			"device_id", deviceID, "event", event, "want", category, "got", rec.Category)
		return false
	}
	return true
}

func (b *Broker) handleWarningCheck(ctx context.Context, connID string, payload json.RawMessage) {
	var req WarningCheckRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("malformed warning check request", "conn_id", connID, "error", err)
		b.trackError("malformed_payload")
		return
	}
	if len(req.RFIDs) == 0 {
		b.logger.Debug("warning check with no tags ignored", "conn_id", connID)
		return
	}
	if b.alerts == nil {
		b.logger.Warn("warning check dropped, alert backend not configured")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runWarningCheck(ctx, connID, req)
	}()
}

// runWarningCheck resolves movement permissions for the scanned tags,
// persists alerts for disallowed moves and fans the results out: alert IDs
// back to the reporting device, alert details to each affected user.
func (b *Broker) runWarningCheck(ctx context.Context, connID string, req WarningCheckRequest) {
	warnings, err := b.alerts.FetchWarnings(ctx, req.RFIDs)
	if err != nil {
		b.logger.Error("warning lookup failed", "tags", len(req.RFIDs), "error", err)
		b.trackError("warning_lookup")
		return
	}

	var disallowed []alertservice.RFIDWarning
	for _, w := range warnings {
		if !w.AllowMove && len(w.UserIDs) > 0 {
			disallowed = append(disallowed, w)
		}
	}
	if len(disallowed) == 0 {
		b.logger.Debug("no disallowed movements", "tags", len(req.RFIDs))
		return
	}

	entries := make([]alertservice.AlertEntry, 0, len(disallowed))
	for _, w := range disallowed {
		entries = append(entries, alertservice.AlertEntry{
			AssetID:  w.AssetID,
			DeviceID: req.DeviceID,
			RoomID:   req.RoomID,
		})
	}

	created, err := b.alerts.BulkCreateAlerts(ctx, entries)
	if err != nil {
		b.logger.Error("bulk alert creation failed", "entries", len(entries), "error", err)
		b.trackError("bulk_create")
		return
	}

	alertIDs := make([]string, 0, len(created))
	for _, a := range created {
		alertIDs = append(alertIDs, a.ID)
	}
	if err := b.sender.Send(connID, EventReceiveRFIDWarning, alertIDs); err != nil {
		b.logger.Warn("warning response to device failed", "conn_id", connID, "error", err)
	}

	for _, w := range disallowed {
		// Every affected user hears about the scan; a tag with no created
		// alert yields an empty list
		matching := make([]alertservice.CreatedAlert, 0, len(created))
		for _, a := range created {
			if a.Asset.RFID == w.RFID {
				matching = append(matching, a)
			}
		}
		for _, userID := range w.UserIDs {
			b.router.SendTo(b.users, userID, EventReceiveAlert, matching)
		}
	}

	b.logger.Info("warning check complete",
		"tags", len(req.RFIDs), "warnings", len(warnings),
		"disallowed", len(disallowed), "alerts_created", len(created))
}

func (b *Broker) handleCaptureReceived(ctx context.Context, payload json.RawMessage) {
	var capture CapturePayload
	if err := json.Unmarshal(payload, &capture); err != nil {
		b.logger.Warn("malformed capture payload", "error", err)
		b.trackError("malformed_payload")
		return
	}
	if capture.ImageData == "" || len(capture.AlertIDs) == 0 {
		b.logger.Warn("capture payload missing image or alert ids",
			"device_id", capture.DeviceID, "alert_ids", len(capture.AlertIDs))
		return
	}
	if b.alerts == nil {
		b.logger.Warn("capture dropped, alert backend not configured")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.uploadCapture(ctx, capture)
	}()
}

// uploadCapture decodes the base64 image and attaches it to the alerts.
func (b *Broker) uploadCapture(ctx context.Context, capture CapturePayload) {
	image, err := base64.StdEncoding.DecodeString(capture.ImageData)
	if err != nil {
		b.logger.Warn("capture image is not valid base64", "device_id", capture.DeviceID, "error", err)
		return
	}

	if err := b.alerts.AttachImage(ctx, image, capture.AlertIDs); err != nil {
		b.logger.Error("capture upload failed",
			"device_id", capture.DeviceID, "alerts", len(capture.AlertIDs), "error", err)
		b.trackError("capture_upload")
		return
	}
	b.logger.Info("capture attached",
		"device_id", capture.DeviceID, "alerts", len(capture.AlertIDs), "bytes", len(image))
}
