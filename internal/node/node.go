package node

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// Unit-of-measure codes reported with each driver value.
const (
	UOMAmps        = 1
	UOMBoolean     = 2
	UOMCentimeters = 5
	UOMFahrenheit  = 17
	UOMHumidity    = 22
	UOMInchesHg    = 23
	UOMIndex       = 25
	UOMKWh         = 33
	UOMLux         = 36
	UOMPercent     = 51
	UOMPowerFactor = 53
	UOMRaw         = 56
	UOMVolts       = 72
	UOMWatts       = 73
	UOMOnOff       = 78
	UOMLevel255    = 100
	UOMFlow        = 130
	UOMSignal      = 145
)

// Command report names used for edge-triggered state changes.
const (
	ReportOn  = "DON"
	ReportOff = "DOF"
)

// Command names understood by nodes.
const (
	CmdOn       = "DON"
	CmdOff      = "DOF"
	CmdQuery    = "QUERY"
	CmdBrighten = "BRT"
	CmdDim      = "DIM"
	CmdFanUp    = "FDUP"
	CmdFanDown  = "FDDOWN"
	CmdSetLED   = "SETLED"
	CmdSetRGBW  = "SETRGBW"
	CmdReset    = "RESET"
	CmdOpen     = "OPEN"
	CmdClose    = "CLOSE"
	CmdStop     = "STOP"
	CmdLock     = "LOCK"
	CmdUnlock   = "UNLOCK"
	CmdDiscover = "DISCOVER"
)

// Driver is one status value reported for a node.
type Driver struct {
	Name  string  `json:"driver"`
	Value float64 `json:"value"`
	UOM   int     `json:"uom"`
}

// Command is a request sent to a node from the API or the controller.
//
// Value carries the single parameter of commands like DON on a dimmer.
// Query carries named parameters such as the colour channels of SETLED.
type Command struct {
	Name  string            `json:"cmd"`
	Value string            `json:"value,omitempty"`
	Query map[string]string `json:"query,omitempty"`
}

// Publisher sends outbound MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Reporter receives the status changes of a node.
type Reporter interface {
	SetDriver(address string, d Driver)
	ReportCommand(address, command string)
	ReportDrivers(address string, drivers []Driver)
}

// Logger defines the logging interface used by nodes.
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

type noopReporter struct{}

func (noopReporter) SetDriver(string, Driver)       {}
func (noopReporter) ReportCommand(string, string)   {}
func (noopReporter) ReportDrivers(string, []Driver) {}

// Deps are the collaborators handed to every node.
type Deps struct {
	Publisher Publisher
	Reporter  Reporter
	Logger    Logger
}

func (d Deps) withDefaults() Deps {
	if d.Reporter == nil {
		d.Reporter = noopReporter{}
	}
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	return d
}

// Node is a live device node: it decodes status messages into drivers and
// turns commands into MQTT publishes.
type Node interface {
	Address() string
	Name() string
	Type() device.Type
	Descriptor() device.Descriptor

	// UpdateInfo decodes one status message. topic is the topic the
	// payload arrived on. Errors wrap ErrPayloadDecode.
	UpdateInfo(payload []byte, topic string) error

	// Command runs a named command. Unknown names return ErrUnsupportedCommand.
	Command(cmd Command) error

	// Query asks the device for its state where supported and reports
	// the current drivers.
	Query() error

	// Drivers returns a copy of the current driver values.
	Drivers() []Driver

	// Seed restores driver values, e.g. from storage, without reporting them.
	Seed(drivers []Driver)
}

type commandFunc func(cmd Command) error

// base holds the state shared by every node type.
type base struct {
	desc     device.Descriptor
	address  string
	deps     Deps
	commands map[string]commandFunc

	mu      sync.Mutex
	drivers []Driver

	// stateMu guards the per-type state of the embedding node.
	stateMu sync.Mutex
}

func newBase(desc device.Descriptor, deps Deps, drivers ...Driver) *base {
	if desc.Name == "" {
		desc.Name = desc.ID
	}
	return &base{
		desc:     desc.Clone(),
		address:  desc.Address(),
		deps:     deps.withDefaults(),
		commands: make(map[string]commandFunc),
		drivers:  slices.Clone(drivers),
	}
}

func (b *base) Address() string               { return b.address }
func (b *base) Name() string                  { return b.desc.Name }
func (b *base) Type() device.Type             { return b.desc.Type }
func (b *base) Descriptor() device.Descriptor { return b.desc.Clone() }

func (b *base) Drivers() []Driver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.drivers)
}

func (b *base) Seed(drivers []Driver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range drivers {
		i := slices.IndexFunc(b.drivers, func(x Driver) bool { return x.Name == d.Name })
		if i < 0 {
			b.drivers = append(b.drivers, d)
			continue
		}
		b.drivers[i].Value = d.Value
	}
}

// handle registers the handler for a command name.
func (b *base) handle(name string, fn commandFunc) {
	b.commands[name] = fn
}

func (b *base) Command(cmd Command) error {
	fn, ok := b.commands[cmd.Name]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd.Name, b.desc.Type)
	}
	return fn(cmd)
}

// setDriver stores the value and forwards it to the reporter. A driver the
// node type did not declare is appended with unit 0.
func (b *base) setDriver(name string, value float64) {
	b.mu.Lock()
	var d Driver
	i := slices.IndexFunc(b.drivers, func(d Driver) bool { return d.Name == name })
	if i < 0 {
		d = Driver{Name: name, Value: value}
		b.drivers = append(b.drivers, d)
	} else {
		b.drivers[i].Value = value
		d = b.drivers[i]
	}
	b.mu.Unlock()

	b.deps.Reporter.SetDriver(b.address, d)
}

func (b *base) driver(name string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.drivers {
		if d.Name == name {
			return d.Value
		}
	}
	return 0
}

func (b *base) reportCommand(command string) {
	b.deps.Reporter.ReportCommand(b.address, command)
}

func (b *base) reportDrivers() {
	b.deps.Reporter.ReportDrivers(b.address, b.Drivers())
}

// publish sends payload to topic, not retained.
func (b *base) publish(topic, payload string) error {
	if b.deps.Publisher == nil {
		return fmt.Errorf("publishing to %s: %w", topic, ErrNoPublisher)
	}
	if err := b.deps.Publisher.Publish(topic, []byte(payload), false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	b.deps.Logger.Debug("command published", "address", b.address, "topic", topic, "payload", payload)
	return nil
}

// reportOnly is the Query of node types that cannot be polled.
func (b *base) reportOnly() error {
	b.reportDrivers()
	return nil
}

func (b *base) decodeError(payload []byte, err error) error {
	return fmt.Errorf("%w: %s %s: %q: %w", ErrPayloadDecode, b.desc.Type, b.address, truncate(payload), err)
}

const maxLoggedPayload = 128

func truncate(payload []byte) string {
	if len(payload) > maxLoggedPayload {
		return string(payload[:maxLoggedPayload]) + "..."
	}
	return string(payload)
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
