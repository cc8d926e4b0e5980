package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// SubscribeResult is the outcome of one topic in a SubscribeAll call.
type SubscribeResult struct {
	Topic string
	// Seq is a client-local request number. paho does not expose the
	// SUBSCRIBE packet identifier, so Seq is what log lines correlate on.
	Seq uint64
	// GrantedQoS is the QoS the broker granted (valid only when Err is nil).
	GrantedQoS byte
	Err        error
}

// SubscribeAll subscribes to each topic individually at the configured QoS.
//
// Every topic gets its own SUBSCRIBE so a refusal of one does not affect the
// others. Each outcome is logged with the granted QoS and request sequence.
//
// Returns one result per input topic, in input order.
func (c *Client) SubscribeAll(topics []string, handler MessageHandler) []SubscribeResult {
	results := make([]SubscribeResult, 0, len(topics))
	for _, topic := range topics {
		seq := c.subSeq.Add(1)
		granted, err := c.subscribe(topic, byte(c.cfg.QoS), handler)

		result := SubscribeResult{Topic: topic, Seq: seq, GrantedQoS: granted, Err: err}
		if err != nil {
			c.logError("MQTT subscribe failed", "topic", topic, "seq", seq, "error", err)
		} else {
			c.logInfo("MQTT subscribed", "topic", topic, "seq", seq, "granted_qos", granted)
		}
		results = append(results, result)
	}
	return results
}

func (c *Client) subscribe(topic string, qos byte, handler MessageHandler) (byte, error) {
	if topic == "" {
		return 0, ErrInvalidTopic
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	if handler == nil {
		return 0, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		c.untrack(topic)
		return 0, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic)
		return 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	granted := qos
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if g, found := st.Result()[topic]; found {
			granted = g
		}
	}
	if granted == subackFailure {
		c.untrack(topic)
		return 0, fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, topic)
	}

	return granted, nil
}

func (c *Client) untrack(topics ...string) {
	c.subMu.Lock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	c.subMu.Unlock()
}

// Unsubscribe removes subscriptions for the given topics.
//
// Tracking is dropped first, so the topics are not restored on reconnect
// even if the broker round trip fails. While disconnected there is nothing
// to tell the broker (sessions are clean) and nil is returned.
func (c *Client) Unsubscribe(topics ...string) error {
	filtered := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic != "" {
			filtered = append(filtered, topic)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	c.untrack(filtered...)

	if !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(filtered...)
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	c.logInfo("MQTT unsubscribed", "topics", filtered)
	return nil
}

// SubscriptionCount returns the number of status topics the client is
// tracking and will restore after a reconnect.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact topic string.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
