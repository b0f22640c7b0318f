package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidAddress  ErrorCode = "invalid_address"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Transport errors
	ErrBindFailed ErrorCode = "bind_failed"
	ErrSendFailed ErrorCode = "send_failed"
	ErrReadFailed ErrorCode = "read_failed"

	// Codec errors
	ErrDecodeFailed  ErrorCode = "decode_failed"
	ErrInvalidRecord ErrorCode = "invalid_record"
	ErrEncodeFailed  ErrorCode = "encode_failed"

	// Control errors
	ErrInvalidProfile    ErrorCode = "invalid_profile"
	ErrSubscriberClosed  ErrorCode = "subscriber_closed"
	ErrConnectionsBelow0 ErrorCode = "connections_underflow"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"

	// Metrics history errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"

	// Sink errors
	ErrSinkInit    ErrorCode = "sink_init_failed"
	ErrSinkProduce ErrorCode = "sink_produce_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrUnavailable:       "Service unavailable",
	ErrInvalidConfig:     "Invalid configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read configuration",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidAddress:    "Invalid address",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrBindFailed:        "Failed to bind datagram endpoint",
	ErrSendFailed:        "Failed to send datagram",
	ErrReadFailed:        "Failed to read datagram",
	ErrDecodeFailed:      "Failed to decode telemetry record",
	ErrInvalidRecord:     "Telemetry record violates schema",
	ErrEncodeFailed:      "Failed to encode telemetry record",
	ErrInvalidProfile:    "Unknown stress profile",
	ErrSubscriberClosed:  "Subscriber is closed",
	ErrConnectionsBelow0: "Connection count would go negative",
	ErrTimeout:           "Operation timed out",
	ErrInitMetrics:       "Failed to initialize metrics history",
	ErrCollectMetrics:    "Failed to record metrics snapshot",
	ErrCloseMetrics:      "Failed to close metrics history",
	ErrSinkInit:          "Failed to initialize event sink",
	ErrSinkProduce:       "Failed to produce event",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
