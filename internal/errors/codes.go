package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors. These are the only errors fatal to a
	// long-running process; everything below is recovered locally.
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrInvalidCurve  ErrorCode = "invalid_curve"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Hardware attribute errors
	ErrAttributeRead    ErrorCode = "attribute_read_failed"
	ErrAttributeWrite   ErrorCode = "attribute_write_failed"
	ErrAttributeMissing ErrorCode = "attribute_missing"
	ErrNoActuators      ErrorCode = "no_actuators_resolved"
	ErrNoSensors        ErrorCode = "no_sensors_resolved"

	// Protocol errors
	ErrMalformedReport ErrorCode = "malformed_report"
	ErrMissingField    ErrorCode = "missing_report_field"

	// Connection errors
	ErrConnectFailed ErrorCode = "connect_failed"
	ErrWriteFailed   ErrorCode = "write_failed"
	ErrReadTimeout   ErrorCode = "read_timeout"
	ErrListenFailed  ErrorCode = "listen_failed"

	// Event store errors
	ErrInitEvents  ErrorCode = "init_events_failed"
	ErrRecordEvent ErrorCode = "record_event_failed"
	ErrCloseEvents ErrorCode = "close_events_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrInvalidConfig:    "Invalid configuration",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidCurve:     "Invalid fan curve",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrAttributeRead:    "Failed to read hardware attribute",
	ErrAttributeWrite:   "Failed to write hardware attribute",
	ErrAttributeMissing: "Hardware attribute does not exist",
	ErrNoActuators:      "No valid fan control paths found",
	ErrNoSensors:        "No valid temperature sensor paths found",
	ErrMalformedReport:  "Invalid message format",
	ErrMissingField:     "Report is missing a required field",
	ErrConnectFailed:    "Failed to connect",
	ErrWriteFailed:      "Failed to write to connection",
	ErrReadTimeout:      "Read timed out",
	ErrListenFailed:     "Failed to listen",
	ErrInitEvents:       "Failed to initialize event store",
	ErrRecordEvent:      "Failed to record event",
	ErrCloseEvents:      "Failed to close event store",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
