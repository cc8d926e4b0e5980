package nodes

import (
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
)

// Record is the persisted form of a node.
type Record struct {
	Address    string            `json:"address"`
	Name       string            `json:"name"`
	Type       device.Type       `json:"type"`
	Descriptor device.Descriptor `json:"descriptor"`
	Drivers    []node.Driver     `json:"drivers,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RecordOf builds the record for a live node.
func RecordOf(n node.Node) Record {
	return Record{
		Address:    n.Address(),
		Name:       n.Name(),
		Type:       n.Type(),
		Descriptor: n.Descriptor(),
		Drivers:    n.Drivers(),
	}
}

// EventType identifies a registry event.
type EventType string

const (
	// EventAdded is emitted once a queued node is live. It is the
	// creation confirmation discovery waits for.
	EventAdded EventType = "node.added"
	// EventDeleted is emitted after a node is removed.
	EventDeleted EventType = "node.deleted"
	// EventDriver is emitted for every driver value a node reports.
	EventDriver EventType = "node.driver"
	// EventCommand is emitted for DON/DOF style command reports.
	EventCommand EventType = "node.command"
)

// Event describes a change in the registry.
type Event struct {
	Type    EventType    `json:"type"`
	Address string       `json:"address"`
	Driver  *node.Driver `json:"driver,omitempty"`
	Command string       `json:"command,omitempty"`
	Time    time.Time    `json:"timestamp"`
}

// Listener receives registry events. Listeners run synchronously on the
// goroutine that caused the event and must not block.
type Listener func(Event)

// MetricsWriter records driver values as time series.
type MetricsWriter interface {
	WriteDriver(address, nodeType, driver string, value float64, uom int)
}
