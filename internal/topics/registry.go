// Package topics maps MQTT topics to node addresses.
//
// Each address owns a list of topics; each topic resolves to exactly one
// address. Registrations are queued in a pending set so the caller can
// subscribe only what is new.
package topics

import (
	"slices"
	"sync"
)

// Logger is the logging interface used by the Registry.
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

// Registry is the topic to address table.
//
// Writers are the discovery path; dispatch only reads. All methods are safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byTopic map[string]string
	owned   map[string][]string
	pending map[string]struct{}
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTopic: make(map[string]string),
		owned:   make(map[string][]string),
		pending: make(map[string]struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// RegisterTopics records topics as owned by address.
//
// Registering a topic the address already owns is a no-op. A topic owned by
// a different address is moved to this one (last registration wins) and the
// move is logged. Every topic that was not already mapped to address is added
// to the pending set.
func (r *Registry) RegisterTopics(address string, topics []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, topic := range topics {
		if topic == "" {
			continue
		}
		prev, exists := r.byTopic[topic]
		if exists && prev == address {
			continue
		}
		if exists {
			r.logger.Warn("topic re-pointed to another node",
				"topic", topic, "from", prev, "to", address)
			r.owned[prev] = slices.DeleteFunc(r.owned[prev], func(t string) bool { return t == topic })
			if len(r.owned[prev]) == 0 {
				delete(r.owned, prev)
			}
		}

		r.byTopic[topic] = address
		r.owned[address] = append(r.owned[address], topic)
		r.pending[topic] = struct{}{}
		r.logger.Debug("topic registered", "topic", topic, "address", address)
	}
}

// UnregisterTopics removes every topic owned by address and returns them.
// The removed topics are also dropped from the pending set.
func (r *Registry) UnregisterTopics(address string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.owned[address]
	delete(r.owned, address)
	for _, topic := range removed {
		delete(r.byTopic, topic)
		delete(r.pending, topic)
	}
	return removed
}

// Resolve returns the address owning topic.
func (r *Registry) Resolve(topic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.byTopic[topic]
	return addr, ok
}

// Topics returns every registered topic, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byTopic))
	for topic := range r.byTopic {
		out = append(out, topic)
	}
	slices.Sort(out)
	return out
}

// Owned returns the topics owned by address in registration order.
func (r *Registry) Owned(address string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.owned[address])
}

// Addresses returns every address that owns at least one topic, sorted.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.owned))
	for addr := range r.owned {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// TakePending returns the topics registered since the last call, sorted,
// and clears the pending set.
func (r *Registry) TakePending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.pending))
	for topic := range r.pending {
		out = append(out, topic)
	}
	clear(r.pending)
	slices.Sort(out)
	return out
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}
