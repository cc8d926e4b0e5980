package dispatch

import "errors"

// Domain errors for the dispatch package.
var (
	// ErrUnknownTopic is returned when no node is registered for a topic.
	ErrUnknownTopic = errors.New("dispatch: unknown topic")

	// ErrNodeNotLive is returned when a topic or sensor resolves to an
	// address whose node is not live, e.g. while its creation is pending.
	ErrNodeNotLive = errors.New("dispatch: node not live")
)
