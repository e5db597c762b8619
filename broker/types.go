package broker

// DeviceRegistration is the payload carried by the register event. Older
// firmware sends the category under "type" instead of "deviceType".
type DeviceRegistration struct {
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Category returns the declared device category, preferring deviceType.
func (d DeviceRegistration) Category() string {
	if d.DeviceType != "" {
		return d.DeviceType
	}
	return d.Type
}

// UserRegistration is the payload carried by the register_user event.
type UserRegistration struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// RegistrationAck is emitted back to a session after register_user.
type RegistrationAck struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

// CaptureRequest asks a specific camera to take a picture.
type CaptureRequest struct {
	DeviceReceive string   `json:"deviceReceive"`
	AlertIDs      []string `json:"alertIds,omitempty"`
}

// CaptureCommand is forwarded to the target camera.
type CaptureCommand struct {
	DeviceID string   `json:"deviceId"`
	AlertIDs []string `json:"alertIds"`
}

// MotionScanRequest asks a specific RFID reader to start a motion scan.
type MotionScanRequest struct {
	DeviceReceive string `json:"deviceReceive"`
	DurationMS    int    `json:"duration,omitempty"`
}

// MotionScanCommand is forwarded to the target RFID reader.
type MotionScanCommand struct {
	Duration int    `json:"duration"`
	DeviceID string `json:"deviceId"`
}

// StopBuzzerCommand is forwarded to the target arduino.
type StopBuzzerCommand struct {
	DeviceID string `json:"deviceId"`
}

// WarningCheckRequest carries the tags seen by a reader together with its
// location, used to look up movement permissions.
type WarningCheckRequest struct {
	RFIDs    []string `json:"rfids"`
	RoomID   string   `json:"roomId,omitempty"`
	DeviceID string   `json:"deviceId,omitempty"`
}

// CapturePayload carries a base64 encoded image from a camera along with the
// alerts it documents.
type CapturePayload struct {
	ImageData string   `json:"imageData"`
	AlertIDs  []string `json:"alertIds"`
	DeviceID  string   `json:"deviceId,omitempty"`
}
