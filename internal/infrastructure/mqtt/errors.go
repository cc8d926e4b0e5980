package mqtt

import "errors"

// Connection manager errors. The gateway maps ErrNotConnected to a 503 at
// the API and to a skipped tick in the heartbeat; the others are logged
// per topic.
var (
	// ErrNotConnected means the broker session is down. Nothing is queued.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the cause of a failed connect attempt.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a refused, oversized or unacknowledged publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is recorded in a SubscribeResult when the broker
	// refuses a status topic or does not answer in time.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when dropping a deleted node's topics fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic, which a device entry with a
	// blank status or command topic would otherwise produce.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrClosed is returned by Connect after Close. It also ends the
	// reconnect loop.
	ErrClosed = errors.New("mqtt: client closed")
)
