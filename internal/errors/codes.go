package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig     ErrorCode = "invalid_configuration"
	ErrReadConfig        ErrorCode = "read_config_failed"
	ErrBindFlags         ErrorCode = "bind_flags_failed"
	ErrInvalidInterval   ErrorCode = "invalid_interval"
	ErrInvalidThreshold  ErrorCode = "invalid_threshold"
	ErrInvalidMemoryBand ErrorCode = "invalid_memory_band"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"
	ErrOpenLogSink     ErrorCode = "open_log_sink_failed"

	// Initialization errors
	ErrAlreadyRunning ErrorCode = "already_running"

	// Application errors
	ErrInitApp   ErrorCode = "init_app_failed"
	ErrSetGov    ErrorCode = "set_governor_failed"
	ErrDropCache ErrorCode = "drop_caches_failed"
	ErrRenice    ErrorCode = "renice_failed"

	// Metrics errors
	ErrInitMetrics  ErrorCode = "init_metrics_failed"
	ErrCloseMetrics ErrorCode = "close_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrInvalidConfig:     "Invalid configuration",
	ErrReadConfig:        "Failed to read configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidThreshold:  "Invalid threshold value",
	ErrInvalidMemoryBand: "memory_low must be below memory_high",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrOpenLogSink:       "Failed to open log file",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInitApp:           "Failed to initialize application",
	ErrSetGov:            "Failed to set frequency governor",
	ErrDropCache:         "Failed to drop page cache",
	ErrRenice:            "Failed to lower process priority",
	ErrInitMetrics:       "Failed to initialize metrics",
	ErrCloseMetrics:      "Failed to close metrics endpoint",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
