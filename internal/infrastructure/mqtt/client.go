package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/config"
)

// Client is the gateway's connection manager. It wraps paho.mqtt.golang and
// owns the disconnected/connecting/connected state machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connect and Reconnect are serialised; a second caller sees the outcome
//     of the first.
//   - Subscriptions are restored when the connection comes back.
type Client struct {
	client      pahomqtt.Client
	cfg         config.MQTTConfig
	statusTopic string

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// subSeq numbers subscribe requests for log correlation.
	subSeq atomic.Uint64

	state   State
	closed  bool
	stateMu sync.RWMutex

	// connectMu serialises connection attempts.
	connectMu sync.Mutex

	// reconnecting is set while reconnectLoop runs; done is closed by Close.
	reconnecting atomic.Bool
	done         chan struct{}

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked one at a time, in arrival order, from the paho router
// goroutine. A slow handler delays every message behind it.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// New creates a disconnected client from configuration. Call Connect to
// establish the session.
func New(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		statusTopic:   cfg.Broker.ClientID + "/status",
		subscriptions: make(map[string]subscription),
		done:          make(chan struct{}),
	}
}

// SetStatusTopic overrides the retained online/offline topic.
// It must be called before the first Connect.
func (c *Client) SetStatusTopic(topic string) {
	c.stateMu.Lock()
	c.statusTopic = topic
	c.stateMu.Unlock()
}

// StatusTopic returns the retained online/offline topic.
func (c *Client) StatusTopic() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.statusTopic
}

// Connect opens the broker session with the stored credentials.
//
// The attempt is bounded by mqtt.connect_timeout and by ctx. On failure the
// state is left disconnected and the returned error wraps ErrConnectionFailed.
// Calling Connect on a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected && c.client != nil && c.client.IsConnected() {
		c.stateMu.Unlock()
		return nil
	}
	c.state = StateConnecting
	if c.client == nil {
		c.client = pahomqtt.NewClient(c.buildOptions())
	}
	client := c.client
	c.stateMu.Unlock()

	// paho enforces the same timeout; the extra second lets its token
	// resolve with the real cause first.
	timeout := connectTimeout(c.cfg) + time.Second
	token := client.Connect()

	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-time.After(timeout):
		err = fmt.Errorf("timeout after %v", timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the state here so
	// IsConnected is true as soon as Connect returns.
	c.setState(StateConnected)
	return nil
}

// Reconnect makes one connection attempt with the stored credentials.
func (c *Client) Reconnect() error {
	return c.Connect(context.Background())
}

// WaitConnected blocks until the client is connected or ctx is cancelled.
//
// Each iteration calls onWaiting (if set), sleeps for interval and tries
// Reconnect. There is no attempt limit.
func (c *Client) WaitConnected(ctx context.Context, interval time.Duration, onWaiting func()) error {
	for {
		if c.IsConnected() {
			return nil
		}
		if onWaiting != nil {
			onWaiting()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		if err := c.Reconnect(); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			c.logWarn("MQTT broker not reachable yet", "error", err)
		}
	}
}

func (c *Client) buildOptions() *pahomqtt.ClientOptions {
	opts := buildClientOptions(c.cfg)
	configureLWT(opts, c.statusTopic, c.cfg.Broker.ClientID)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	return opts
}

// handleConnect is called by paho once the session is up.
func (c *Client) handleConnect() {
	c.setState(StateConnected)

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost unexpectedly.
// It starts the reconnect loop unless one is already running.
func (c *Client) handleDisconnect(err error) {
	c.setState(StateDisconnected)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}

	if c.reconnecting.CompareAndSwap(false, true) {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries until the session is back or the client is closed.
// The first attempt is immediate; after that the delay doubles from
// mqtt.reconnect.initial_delay up to mqtt.reconnect.max_delay.
func (c *Client) reconnectLoop() {
	delay, maxDelay := reconnectBackoff(c.cfg)

	for attempt := 1; ; attempt++ {
		err := c.Reconnect()
		if err == nil {
			c.logInfo("MQTT reconnected", "attempts", attempt)
			c.reconnecting.Store(false)
			// A loss between Connect returning and the flag clearing found
			// the loop still running; pick it up here.
			if c.IsConnected() || !c.reconnecting.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		if errors.Is(err, ErrClosed) {
			c.reconnecting.Store(false)
			return
		}
		c.logWarn("MQTT reconnect failed", "attempt", attempt, "retry_in", delay.String(), "error", err)

		select {
		case <-c.done:
			c.reconnecting.Store(false)
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors surface on the next SubscribeAll; nothing to do here.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishOnlineStatus publishes the gateway's retained online status.
func (c *Client) publishOnlineStatus() {
	payload := buildOnlinePayload(c.cfg.Broker.ClientID)
	c.client.Publish(c.StatusTopic(), byte(c.cfg.QoS), true, payload)
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (different from the LWT crash
// status), waits for pending operations and disconnects. A closed client
// cannot reconnect.
func (c *Client) Close() error {
	c.stateMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	client := c.client
	c.stateMu.Unlock()

	if client == nil {
		return nil
	}

	if c.IsConnected() {
		payload := buildOfflinePayload(c.cfg.Broker.ClientID)
		token := client.Publish(c.StatusTopic(), byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	client.Disconnect(defaultDisconnectQuiesce)
	c.setState(StateDisconnected)

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state == StateConnected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for subscription, reconnect and handler logging.
// If not set, these are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logInfo(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, args...)
	}
}

// wrapHandler wraps a MessageHandler with panic recovery and error logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logWarn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
