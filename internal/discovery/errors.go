package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrCreateTimeout is recorded when the node registry does not confirm a
	// node within the create timeout. The device is retried on the next pass.
	ErrCreateTimeout = errors.New("discovery: node creation timed out")

	// ErrCreateFailed is recorded when the node registry refuses a node.
	ErrCreateFailed = errors.New("discovery: node creation failed")
)
