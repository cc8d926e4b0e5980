package nodes

import "errors"

// Domain errors for the nodes package.
var (
	// ErrNodeNotFound is returned when no node has the requested address.
	ErrNodeNotFound = errors.New("nodes: node not found")

	// ErrNodeExists is returned when adding a node whose address is taken.
	ErrNodeExists = errors.New("nodes: node already exists")

	// ErrNotRunning is returned by Add when the worker is not running.
	ErrNotRunning = errors.New("nodes: registry not running")
)
