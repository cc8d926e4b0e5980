package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrNoDeviceSource is returned when neither devices.file nor
	// devices.list is configured.
	ErrNoDeviceSource = errors.New("gateway: no device list configured")

	// ErrNotStarted is returned by operations that need a running gateway.
	ErrNotStarted = errors.New("gateway: not started")
)
