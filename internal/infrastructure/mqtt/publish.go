package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads. Device commands are a few bytes;
// the largest message the gateway sends is its health report.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic at the given QoS.
//
// The topic is checked, the payload size is capped and the call waits for
// the broker's acknowledgement up to the publish timeout. While the session
// is down ErrNotConnected is returned and nothing is queued.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: %d bytes exceeds %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishDefault sends a device command: not retained, at mqtt.qos.
func (c *Client) PublishDefault(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), false)
}

// PublishRetained sends a retained message at mqtt.qos. The gateway uses it
// for its health report so a controller that subscribes late still sees
// the last one.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
