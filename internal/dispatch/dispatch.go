// Package dispatch routes inbound MQTT messages to device nodes.
//
// A message is resolved in two steps. Tasmota boards with several sensors
// publish all readings on one telemetry topic, so the payload's sensor keys
// (every key of "ANALOG" and every key naming a DS18B20, AM2301 or BME280)
// are matched against the declared devices first. When there are no such
// keys, or none of them matches, the topic itself is looked up in the topic
// registry.
//
// While a discovery pass holds the shared guard, messages are dropped.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
)

// multiplexedFamilies are the sensor families Tasmota reports under
// numbered keys such as "DS18B20-1".
var multiplexedFamilies = []string{"DS18B20", "AM2301", "BME280"}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TopicResolver maps a topic to a node address. *topics.Registry satisfies it.
type TopicResolver interface {
	Resolve(topic string) (string, bool)
}

// SensorMatcher finds the device behind one key of a multi-sensor payload.
// *device.Store satisfies it.
type SensorMatcher interface {
	MatchSensor(topic, sensorKey string) (device.Descriptor, bool)
}

// NodeLookup returns live nodes. *nodes.Registry satisfies it.
type NodeLookup interface {
	Get(address string) (node.Node, bool)
}

// Options configures an Engine.
type Options struct {
	Topics  TopicResolver
	Sensors SensorMatcher
	Nodes   NodeLookup

	// Guard is the discovery guard. Required.
	Guard *sync.RWMutex

	Logger Logger
}

// Stats counts messages by outcome.
type Stats struct {
	Received uint64 `json:"received"`
	Routed   uint64 `json:"routed"`
	Dropped  uint64 `json:"dropped"`
	Unknown  uint64 `json:"unknown"`
	Failed   uint64 `json:"failed"`
}

// Engine routes messages. OnMessage is safe for concurrent use.
type Engine struct {
	topics  TopicResolver
	sensors SensorMatcher
	nodes   NodeLookup
	guard   *sync.RWMutex
	logger  Logger

	received atomic.Uint64
	routed   atomic.Uint64
	dropped  atomic.Uint64
	unknown  atomic.Uint64
	failed   atomic.Uint64
}

// New creates a dispatch engine.
func New(opts Options) (*Engine, error) {
	if opts.Topics == nil {
		return nil, fmt.Errorf("topic resolver is required")
	}
	if opts.Nodes == nil {
		return nil, fmt.Errorf("node lookup is required")
	}
	if opts.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	e := &Engine{
		topics:  opts.Topics,
		sensors: opts.Sensors,
		nodes:   opts.Nodes,
		guard:   opts.Guard,
		logger:  opts.Logger,
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	return e, nil
}

// OnMessage routes one message. It matches mqtt.MessageHandler.
//
// Messages arriving during a discovery pass are dropped and nil is returned.
// An unresolvable topic returns ErrUnknownTopic; decoder failures are
// returned wrapped with the node address.
func (e *Engine) OnMessage(topic string, payload []byte) error {
	e.received.Add(1)

	if !e.guard.TryRLock() {
		e.dropped.Add(1)
		e.logger.Debug("discovery running, message dropped", "topic", topic)
		return nil
	}
	defer e.guard.RUnlock()

	if keys := sensorKeys(payload); len(keys) > 0 && e.sensors != nil {
		if routed, err := e.routeSensors(topic, keys, payload); routed {
			return err
		}
	}

	address, ok := e.topics.Resolve(topic)
	if !ok {
		e.unknown.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return e.deliver(address, topic, payload)
}

// routeSensors hands payload to the node of every matching sensor key. It
// reports whether at least one key matched.
func (e *Engine) routeSensors(topic string, keys []string, payload []byte) (bool, error) {
	var errs []error
	matched := false
	for _, key := range keys {
		desc, ok := e.sensors.MatchSensor(topic, key)
		if !ok {
			e.logger.Debug("no device for sensor key", "topic", topic, "sensor", key)
			continue
		}
		matched = true
		if err := e.deliver(desc.Address(), topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return matched, errors.Join(errs...)
}

func (e *Engine) deliver(address, topic string, payload []byte) error {
	n, ok := e.nodes.Get(address)
	if !ok {
		e.unknown.Add(1)
		return fmt.Errorf("%w: %s", ErrNodeNotLive, address)
	}
	if err := n.UpdateInfo(payload, topic); err != nil {
		e.failed.Add(1)
		return fmt.Errorf("node %s: %w", address, err)
	}
	e.routed.Add(1)
	e.logger.Debug("message routed", "topic", topic, "address", address)
	return nil
}

// Stats returns the message counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Received: e.received.Load(),
		Routed:   e.routed.Load(),
		Dropped:  e.dropped.Load(),
		Unknown:  e.unknown.Load(),
		Failed:   e.failed.Load(),
	}
}

// sensorKeys returns the multiplexed sensor keys of a JSON payload in a
// stable order: ANALOG channels first, then family keys. A payload that is
// not a JSON object has none.
func sensorKeys(payload []byte) []string {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil || data == nil {
		return nil
	}
	if sns, ok := data["StatusSNS"].(map[string]any); ok {
		data = sns
	}

	var keys []string
	if analog, ok := data["ANALOG"].(map[string]any); ok {
		for k := range analog {
			keys = append(keys, k)
		}
		slices.Sort(keys)
	}

	var family []string
	for k := range data {
		if slices.ContainsFunc(multiplexedFamilies, func(f string) bool { return strings.Contains(k, f) }) {
			family = append(family, k)
		}
	}
	slices.Sort(family)
	return append(keys, family...)
}
