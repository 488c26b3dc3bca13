package metrics

import "codeberg.org/mutker/edgegov/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidAddr   = errors.ErrorCode("metrics_invalid_addr")

	// Registration Errors
	ErrRegisterFailed = errors.ErrorCode("metrics_register_failed")
	ErrListenFailed   = errors.ErrorCode("metrics_listen_failed")

	// Service Errors
	ErrServiceInit     = errors.ErrInitMetrics
	ErrServiceShutdown = errors.ErrCloseMetrics
)
