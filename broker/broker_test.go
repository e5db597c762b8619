package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeDonChung/asset-management-iuh-sckt/alertservice"
	"github.com/LeDonChung/asset-management-iuh-sckt/registry"
	"github.com/LeDonChung/asset-management-iuh-sckt/router"
)

type sentEvent struct {
	connID  string
	event   string
	payload any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *fakeSender) Send(connID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{connID: connID, event: event, payload: payload})
	return nil
}

func (f *fakeSender) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) byEvent(event string) []sentEvent {
	var out []sentEvent
	for _, e := range f.events() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeAlerts struct {
	mu sync.Mutex

	warnings    []alertservice.RFIDWarning
	created     []alertservice.CreatedAlert
	fetchCalls  [][]string
	bulkCalls   [][]alertservice.AlertEntry
	attachCalls []struct {
		image    []byte
		alertIDs []string
	}
}

func (f *fakeAlerts) FetchWarnings(_ context.Context, tags []string) ([]alertservice.RFIDWarning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, tags)
	return f.warnings, nil
}

func (f *fakeAlerts) BulkCreateAlerts(_ context.Context, entries []alertservice.AlertEntry) ([]alertservice.CreatedAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, entries)
	return f.created, nil
}

func (f *fakeAlerts) AttachImage(_ context.Context, image []byte, alertIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls = append(f.attachCalls, struct {
		image    []byte
		alertIDs []string
	}{image, alertIDs})
	return nil
}

func newTestBroker(t *testing.T, alerts AlertService) (*Broker, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	devices := registry.NewTable("devices", nil, nil)
	users := registry.NewTable("users", nil, nil)
	rt := router.New(sender, nil, nil)
	return New(devices, users, rt, sender, alerts, nil, nil, nil), sender
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestBroker_RegisterDevice(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	b.HandleEvent(ctx, "conn-1", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "cam-1", DeviceType: "camera"}))

	rec, ok := b.Devices().Lookup("cam-1")
	require.True(t, ok)
	assert.Equal(t, "conn-1", rec.ConnID)
	assert.Equal(t, CategoryCamera, rec.Category)
}

func TestBroker_RegisterDeviceLegacyTypeField(t *testing.T) {
	b, _ := newTestBroker(t, nil)

	b.HandleEvent(context.Background(), "conn-1", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "reader-1", Type: "RFID"}))

	rec, ok := b.Devices().Lookup("reader-1")
	require.True(t, ok)
	assert.Equal(t, CategoryRFID, rec.Category)
}

func TestBroker_RegisterDeviceMissingIDIgnored(t *testing.T) {
	b, sender := newTestBroker(t, nil)

	b.HandleEvent(context.Background(), "conn-1", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceType: "camera"}))

	assert.Zero(t, b.Devices().Len())
	assert.Empty(t, sender.events())
}

func TestBroker_RegisterUserAck(t *testing.T) {
	b, sender := newTestBroker(t, nil)

	b.HandleEvent(context.Background(), "conn-5", EventRegisterUser,
		raw(t, UserRegistration{UserID: "u1", Username: "alice", Role: "admin"}))

	rec, ok := b.Users().Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "alice", rec.Attributes["username"])

	acks := sender.byEvent(EventUserRegistered)
	require.Len(t, acks, 1)
	assert.Equal(t, "conn-5", acks[0].connID)
	ack := acks[0].payload.(RegistrationAck)
	assert.True(t, ack.Success)
	assert.Equal(t, "u1", ack.UserID)
}

func TestBroker_RegisterUserMissingIDNacked(t *testing.T) {
	b, sender := newTestBroker(t, nil)

	b.HandleEvent(context.Background(), "conn-5", EventRegisterUser,
		raw(t, UserRegistration{Username: "ghost"}))

	assert.Zero(t, b.Users().Len())
	acks := sender.byEvent(EventUserRegistered)
	require.Len(t, acks, 1)
	assert.False(t, acks[0].payload.(RegistrationAck).Success)
}

func TestBroker_CaptureRequestForwarded(t *testing.T) {
	b, sender := newTestBroker(t, nil)
	ctx := context.Background()

	b.HandleEvent(ctx, "cam-conn", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "cam-1", DeviceType: "camera"}))
	b.HandleEvent(ctx, "ui-conn", EventRequestCapture,
		raw(t, CaptureRequest{DeviceReceive: "cam-1", AlertIDs: []string{"a1"}}))

	forwarded := sender.byEvent(EventReceiveCapture)
	require.Len(t, forwarded, 1)
	assert.Equal(t, "cam-conn", forwarded[0].connID)
	cmd := forwarded[0].payload.(CaptureCommand)
	assert.Equal(t, "cam-1", cmd.DeviceID)
	assert.Equal(t, []string{"a1"}, cmd.AlertIDs)
}

func TestBroker_CaptureRequestWrongCategoryDropped(t *testing.T) {
	b, sender := newTestBroker(t, nil)
	ctx := context.Background()

	b.HandleEvent(ctx, "rfid-conn", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "reader-1", DeviceType: "rfid"}))
	b.HandleEvent(ctx, "ui-conn", EventRequestCapture,
		raw(t, CaptureRequest{DeviceReceive: "reader-1"}))

	assert.Empty(t, sender.byEvent(EventReceiveCapture))
}

func TestBroker_CaptureRequestUnknownDeviceDropped(t *testing.T) {
	b, sender := newTestBroker(t, nil)

	b.HandleEvent(context.Background(), "ui-conn", EventRequestCapture,
		raw(t, CaptureRequest{DeviceReceive: "nope"}))

	assert.Empty(t, sender.events())
}

func TestBroker_MotionScanDefaultDuration(t *testing.T) {
	b, sender := newTestBroker(t, nil)
	ctx := context.Background()

	b.HandleEvent(ctx, "rfid-conn", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "reader-1", DeviceType: "rfid"}))
	b.HandleEvent(ctx, "ui-conn", EventStartMotionScan,
		raw(t, MotionScanRequest{DeviceReceive: "reader-1"}))

	forwarded := sender.byEvent(EventReceiveMotionScan)
	require.Len(t, forwarded, 1)
	cmd := forwarded[0].payload.(MotionScanCommand)
	assert.Equal(t, DefaultScanDurationMS, cmd.Duration)
	assert.Equal(t, "reader-1", cmd.DeviceID)
}

func TestBroker_StopBuzzerBareStringPayload(t *testing.T) {
	b, sender := newTestBroker(t, nil)
	ctx := context.Background()

	b.HandleEvent(ctx, "ard-conn", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "ard-1", DeviceType: "arduino"}))
	b.HandleEvent(ctx, "ui-conn", EventStopBuzzer, json.RawMessage(`"ard-1"`))

	forwarded := sender.byEvent(EventReceiveStopBuzzer)
	require.Len(t, forwarded, 1)
	assert.Equal(t, "ard-conn", forwarded[0].connID)
}

// Two tags are scanned: tag-a belongs to an asset that must not move and is
// owned by u1, tag-b is allowed to move. Exactly one alert batch is created
// and only u1 receives alert details.
func TestBroker_WarningCheckFanOut(t *testing.T) {
	alerts := &fakeAlerts{
		warnings: []alertservice.RFIDWarning{
			{RFID: "tag-a", AllowMove: false, UserIDs: []string{"u1"}, AssetID: "asset-a"},
			{RFID: "tag-b", AllowMove: true, UserIDs: []string{"u2"}, AssetID: "asset-b"},
		},
		created: []alertservice.CreatedAlert{
			{ID: "alert-1", Asset: alertservice.Asset{RFID: "tag-a"}},
		},
	}
	b, sender := newTestBroker(t, alerts)
	ctx := context.Background()

	b.HandleEvent(ctx, "u1-conn", EventRegisterUser, raw(t, UserRegistration{UserID: "u1"}))
	b.HandleEvent(ctx, "u2-conn", EventRegisterUser, raw(t, UserRegistration{UserID: "u2"}))
	b.HandleEvent(ctx, "reader-conn", EventCheckRFIDWarning,
		raw(t, WarningCheckRequest{RFIDs: []string{"tag-a", "tag-b"}, RoomID: "room-1", DeviceID: "reader-1"}))

	require.True(t, b.Wait(2*time.Second))

	require.Len(t, alerts.bulkCalls, 1)
	require.Len(t, alerts.bulkCalls[0], 1)
	entry := alerts.bulkCalls[0][0]
	assert.Equal(t, "asset-a", entry.AssetID)
	assert.Equal(t, "reader-1", entry.DeviceID)
	assert.Equal(t, "room-1", entry.RoomID)

	// Reporting device gets the created alert IDs on its own connection.
	deviceReplies := sender.byEvent(EventReceiveRFIDWarning)
	require.Len(t, deviceReplies, 1)
	assert.Equal(t, "reader-conn", deviceReplies[0].connID)
	assert.Equal(t, []string{"alert-1"}, deviceReplies[0].payload.([]string))

	// Only u1 gets alert details.
	userAlerts := sender.byEvent(EventReceiveAlert)
	require.Len(t, userAlerts, 1)
	assert.Equal(t, "u1-conn", userAlerts[0].connID)
	details := userAlerts[0].payload.([]alertservice.CreatedAlert)
	require.Len(t, details, 1)
	assert.Equal(t, "alert-1", details[0].ID)
}

func TestBroker_WarningCheckNotifiesUsersWithoutMatchingAlerts(t *testing.T) {
	// The backend created no alert carrying this tag; the affected user is
	// still told about the scan, with an empty detail list.
	alerts := &fakeAlerts{
		warnings: []alertservice.RFIDWarning{
			{RFID: "tag-a", AllowMove: false, UserIDs: []string{"u1"}, AssetID: "asset-a"},
		},
		created: []alertservice.CreatedAlert{
			{ID: "alert-1", Asset: alertservice.Asset{RFID: "tag-other"}},
		},
	}
	b, sender := newTestBroker(t, alerts)
	ctx := context.Background()

	b.HandleEvent(ctx, "u1-conn", EventRegisterUser, raw(t, UserRegistration{UserID: "u1"}))
	b.HandleEvent(ctx, "reader-conn", EventCheckRFIDWarning,
		raw(t, WarningCheckRequest{RFIDs: []string{"tag-a"}, RoomID: "room-1", DeviceID: "reader-1"}))

	require.True(t, b.Wait(2*time.Second))

	userAlerts := sender.byEvent(EventReceiveAlert)
	require.Len(t, userAlerts, 1)
	assert.Equal(t, "u1-conn", userAlerts[0].connID)
	assert.Empty(t, userAlerts[0].payload.([]alertservice.CreatedAlert))
}

func TestBroker_WarningCheckAllAllowedNoAlerts(t *testing.T) {
	alerts := &fakeAlerts{
		warnings: []alertservice.RFIDWarning{
			{RFID: "tag-a", AllowMove: true, UserIDs: []string{"u1"}, AssetID: "asset-a"},
		},
	}
	b, sender := newTestBroker(t, alerts)

	b.HandleEvent(context.Background(), "reader-conn", EventCheckRFIDWarning,
		raw(t, WarningCheckRequest{RFIDs: []string{"tag-a"}}))
	require.True(t, b.Wait(2*time.Second))

	assert.Empty(t, alerts.bulkCalls)
	assert.Empty(t, sender.events())
}

func TestBroker_CaptureUpload(t *testing.T) {
	alerts := &fakeAlerts{}
	b, _ := newTestBroker(t, alerts)

	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	b.HandleEvent(context.Background(), "cam-conn", EventCaptureReceived,
		raw(t, CapturePayload{
			ImageData: base64.StdEncoding.EncodeToString(image),
			AlertIDs:  []string{"alert-1", "alert-2"},
			DeviceID:  "cam-1",
		}))
	require.True(t, b.Wait(2*time.Second))

	require.Len(t, alerts.attachCalls, 1)
	assert.Equal(t, image, alerts.attachCalls[0].image)
	assert.Equal(t, []string{"alert-1", "alert-2"}, alerts.attachCalls[0].alertIDs)
}

func TestBroker_CaptureInvalidBase64Dropped(t *testing.T) {
	alerts := &fakeAlerts{}
	b, _ := newTestBroker(t, alerts)

	b.HandleEvent(context.Background(), "cam-conn", EventCaptureReceived,
		raw(t, CapturePayload{ImageData: "not base64!!", AlertIDs: []string{"alert-1"}}))
	require.True(t, b.Wait(2*time.Second))

	assert.Empty(t, alerts.attachCalls)
}

func TestBroker_CaptureWithoutAlertIDsDropped(t *testing.T) {
	alerts := &fakeAlerts{}
	b, _ := newTestBroker(t, alerts)

	b.HandleEvent(context.Background(), "cam-conn", EventCaptureReceived,
		raw(t, CapturePayload{ImageData: "aGVsbG8="}))
	require.True(t, b.Wait(2*time.Second))

	assert.Empty(t, alerts.attachCalls)
}

func TestBroker_DisconnectClearsBothTables(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	b.HandleEvent(ctx, "conn-1", EventRegisterDevice,
		raw(t, DeviceRegistration{DeviceID: "cam-1", DeviceType: "camera"}))
	b.HandleEvent(ctx, "conn-1", EventRegisterUser, raw(t, UserRegistration{UserID: "u1"}))
	b.HandleEvent(ctx, "conn-2", EventRegisterUser, raw(t, UserRegistration{UserID: "u2"}))

	b.HandleDisconnect("conn-1")

	_, ok := b.Devices().Lookup("cam-1")
	assert.False(t, ok)
	_, ok = b.Users().Lookup("u1")
	assert.False(t, ok)
	_, ok = b.Users().Lookup("u2")
	assert.True(t, ok)
}

func TestBroker_UnknownEventIgnored(t *testing.T) {
	b, sender := newTestBroker(t, nil)

	b.HandleEvent(context.Background(), "conn-1", "bogus_event", json.RawMessage(`{}`))

	assert.Empty(t, sender.events())
}
