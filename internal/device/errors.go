package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrMissingField) {
//	    // entry was skipped
//	}
var (
	// ErrConfig is returned when the device list cannot be read or parsed.
	ErrConfig = errors.New("device: invalid configuration")

	// ErrMissingField is returned for an entry lacking id, type, status_topic or cmd_topic.
	ErrMissingField = errors.New("device: missing required field")

	// ErrInvalidDescriptor is returned for an entry that fails schema validation.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrAddressCollision is returned when two entries derive the same address.
	// The later entry is rejected.
	ErrAddressCollision = errors.New("device: address collision")
)
