package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/dispatch"
)

const defaultHeartbeatInterval = 60 * time.Second

// HealthStatus is the gateway state reported in health messages.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// Statistics are the counters carried by a health message.
type Statistics struct {
	Nodes         int            `json:"nodes"`
	Devices       int            `json:"devices"`
	Topics        int            `json:"topics"`
	Subscriptions int            `json:"subscriptions"`
	Dispatch      dispatch.Stats `json:"dispatch"`
}

// HealthMessage is published retained on the health topic.
type HealthMessage struct {
	Gateway       string       `json:"gateway"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Heartbeat     string       `json:"heartbeat,omitempty"`
	Statistics    Statistics   `json:"statistics"`
	Reason        string       `json:"reason,omitempty"`
}

// HealthPublisher publishes health messages.
type HealthPublisher interface {
	PublishRetained(topic string, payload []byte) error
	IsConnected() bool
}

// Beater produces the controller heartbeat. *node.Controller satisfies it.
type Beater interface {
	Heartbeat() string
}

// HeartbeatConfig holds configuration for the heartbeat.
type HeartbeatConfig struct {
	GatewayID string
	Version   string

	// Interval defaults to 60 seconds.
	Interval time.Duration

	// Topic receives the retained health message.
	Topic string

	Publisher HealthPublisher
	Beater    Beater
	Stats     func() Statistics
}

// Heartbeat toggles the controller heartbeat and publishes gateway health
// at a fixed interval.
type Heartbeat struct {
	gatewayID string
	version   string
	startTime time.Time
	interval  time.Duration
	topic     string
	publisher HealthPublisher
	beater    Beater
	stats     func() Statistics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHeartbeat creates a heartbeat. Call Start to begin.
func NewHeartbeat(cfg HeartbeatConfig) *Heartbeat {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Heartbeat{
		gatewayID: cfg.GatewayID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		topic:     cfg.Topic,
		publisher: cfg.Publisher,
		beater:    cfg.Beater,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the heartbeat.
func (h *Heartbeat) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start beats once immediately and then every interval until ctx is
// cancelled or Stop is called.
func (h *Heartbeat) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.loop(ctx)
}

// Stop ends the loop and publishes a final "stopping" message.
// Safe to call multiple times.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthStopping, "", "")
	})
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.Beat()
		}
	}
}

// Beat toggles the controller heartbeat and publishes the current health.
func (h *Heartbeat) Beat() {
	beat := ""
	if h.beater != nil {
		beat = h.beater.Heartbeat()
	}
	status, reason := h.determineStatus()
	if err := h.publish(status, reason, beat); err != nil {
		h.logError("failed to publish health", err)
	}
}

func (h *Heartbeat) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *Heartbeat) Message(status HealthStatus, reason, beat string) HealthMessage {
	msg := HealthMessage{
		Gateway:       h.gatewayID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Heartbeat:     beat,
		Reason:        reason,
	}
	if h.stats != nil {
		msg.Statistics = h.stats()
	}
	return msg
}

func (h *Heartbeat) publish(status HealthStatus, reason, beat string) error {
	if h.publisher == nil || h.topic == "" || !h.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason, beat))
	if err != nil {
		return err
	}
	return h.publisher.PublishRetained(h.topic, payload)
}

func (h *Heartbeat) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
