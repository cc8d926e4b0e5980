package node

import "errors"

// Domain errors for the node package.
var (
	// ErrUnsupportedType is returned by New for a device type with no factory.
	ErrUnsupportedType = errors.New("node: unsupported device type")

	// ErrUnsupportedCommand is returned for a command the node type does not handle.
	ErrUnsupportedCommand = errors.New("node: unsupported command")

	// ErrPayloadDecode is returned when a status payload cannot be decoded.
	ErrPayloadDecode = errors.New("node: payload decode failed")

	// ErrInvalidParameter is returned when a command parameter is malformed.
	ErrInvalidParameter = errors.New("node: invalid command parameter")

	// ErrNoPublisher is returned when a command needs to publish but the
	// node was built without a publisher.
	ErrNoPublisher = errors.New("node: no publisher")
)
