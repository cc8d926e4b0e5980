package device

import (
	"strings"
	"sync"
)

// Logger defines the logging interface used by the device package.
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

// Store holds the currently declared device list.
//
// It starts invalid (nothing loaded). A successful Replace, LoadFile or
// LoadInline makes it valid; a failed load leaves the previous list and
// validity untouched.
//
// All methods are safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	byAddress   map[string]int
	reserved    []string
	valid       bool
	logger      Logger
}

// NewStore creates an empty, not yet valid store. Entries deriving one of
// the reserved addresses are rejected as collisions.
func NewStore(reserved ...string) *Store {
	return &Store{
		byAddress: make(map[string]int),
		reserved:  reserved,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger used to report skipped entries.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Replace loads raw as the new device list.
func (s *Store) Replace(raw []map[string]any) LoadResult {
	result := Load(raw, s.reserved...)

	s.mu.Lock()
	s.descriptors = result.Descriptors
	s.byAddress = make(map[string]int, len(result.Descriptors))
	for i, d := range result.Descriptors {
		s.byAddress[d.Address()] = i
	}
	s.valid = true
	logger := s.logger
	s.mu.Unlock()

	for _, err := range result.Skipped {
		logger.Warn("device entry skipped", "error", err)
	}
	logger.Info("device list loaded", "devices", len(result.Descriptors), "skipped", len(result.Skipped))

	return result
}

// LoadFile parses path (see ParseFile) and replaces the list.
func (s *Store) LoadFile(path string) (LoadResult, error) {
	raw, err := ParseFile(path)
	if err != nil {
		return LoadResult{}, err
	}
	return s.Replace(raw), nil
}

// LoadInline parses an inline JSON list (see ParseInline) and replaces the list.
func (s *Store) LoadInline(text string) (LoadResult, error) {
	raw, err := ParseInline(text)
	if err != nil {
		return LoadResult{}, err
	}
	return s.Replace(raw), nil
}

// Valid reports whether a device list has been loaded.
func (s *Store) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// List returns a copy of the descriptors in declaration order.
func (s *Store) List() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, len(s.descriptors))
	for i, d := range s.descriptors {
		out[i] = d.Clone()
	}
	return out
}

// Get returns the descriptor with the given address.
func (s *Store) Get(address string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byAddress[address]
	if !ok {
		return Descriptor{}, false
	}
	return s.descriptors[i].Clone(), true
}

// MatchSensor finds the device behind one reading of a multi-sensor payload.
//
// topic is the topic the payload arrived on and sensorKey one of its sensor
// keys (e.g. "DS18B20-1"). A device matches when the topic's second segment
// occurs in one of its status topics and sensorKey occurs in its sensor_id.
// The first match in declaration order wins.
func (s *Store) MatchSensor(topic, sensorKey string) (Descriptor, bool) {
	segments := strings.Split(topic, "/")
	if len(segments) < 2 || segments[1] == "" || sensorKey == "" {
		return Descriptor{}, false
	}
	segment := segments[1]

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.descriptors {
		if !strings.Contains(d.SensorID, sensorKey) {
			continue
		}
		for _, st := range d.StatusTopic {
			if strings.Contains(st, segment) {
				return d.Clone(), true
			}
		}
	}
	return Descriptor{}, false
}
