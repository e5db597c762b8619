package broker

// Inbound event names (device and frontend protocol).
const (
	EventRegisterDevice   = "register"
	EventRegisterUser     = "register_user"
	EventRequestCapture   = "send_request_capture"
	EventStartMotionScan  = "send_command_start_motion_scan"
	EventStopBuzzer       = "send_stop_buzzer"
	EventCheckRFIDWarning = "send_command_check_rfid_warning"
	EventCaptureReceived  = "receive_capture"
)

// Outbound event names.
const (
	EventUserRegistered     = "user_registered"
	EventReceiveCapture     = "receive_request_capture"
	EventReceiveMotionScan  = "receive_command_start_motion_scan"
	EventReceiveStopBuzzer  = "receive_stop_buzzer"
	EventReceiveRFIDWarning = "receive_command_check_rfid_warning"
	EventReceiveAlert       = "receive_alert"
	EventTestMessage        = "test_message"
	EventCaptureCommand     = "captureCommand"
)

// Device categories.
const (
	CategoryCamera  = "camera"
	CategoryRFID    = "rfid"
	CategoryArduino = "arduino"
)

// DefaultScanDurationMS is the motion scan duration handed to RFID readers
// when the requester does not specify one.
const DefaultScanDurationMS = 20000
