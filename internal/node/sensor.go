package node

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// sensorNode is a multisensor (motion, climate, light level) with an
// optional RGB LED.
type sensorNode struct {
	*base
	motion bool
}

var sensorFields = []field{
	{"temperature", "CLITEMP"},
	{"flow", "GV5"},
	{"signal", "GV6"},
	{"heatIndex", "GPV"},
	{"humidity", "CLIHUM"},
	{"ldr", "LUMIN"},
}

var ledFields = []field{
	{"r", "GV2"},
	{"g", "GV3"},
	{"b", "GV4"},
}

func newSensor(desc device.Descriptor, deps Deps) Node {
	n := &sensorNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "CLITEMP", UOM: UOMFahrenheit},
			Driver{Name: "GPV", UOM: UOMFahrenheit},
			Driver{Name: "CLIHUM", UOM: UOMHumidity},
			Driver{Name: "LUMIN", UOM: UOMLux},
			Driver{Name: "GV0", UOM: UOMOnOff},
			Driver{Name: "GV1", UOM: UOMLevel255},
			Driver{Name: "GV2", UOM: UOMLevel255},
			Driver{Name: "GV3", UOM: UOMLevel255},
			Driver{Name: "GV4", UOM: UOMLevel255},
			Driver{Name: "GV5", UOM: UOMFlow},
			Driver{Name: "GV6", UOM: UOMSignal},
		),
	}
	n.handle(CmdOn, func(Command) error { return n.publish(n.desc.CmdTopic, `{"state":"ON"}`) })
	n.handle(CmdOff, func(Command) error { return n.publish(n.desc.CmdTopic, `{"state":"OFF"}`) })
	n.handle(CmdSetLED, n.setLED)
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *sensorNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}

	if m, ok := data["motion"]; ok {
		motion := m != "standby"
		n.stateMu.Lock()
		changed := n.motion != motion
		n.motion = motion
		n.stateMu.Unlock()

		n.setDriver("ST", boolValue(motion))
		if changed {
			if motion {
				n.reportCommand(ReportOn)
			} else {
				n.reportCommand(ReportOff)
			}
		}
	} else {
		n.setDriver("ST", 0)
	}

	if err := n.setFields(data, sensorFields); err != nil {
		return n.decodeError(payload, err)
	}

	state, ok := data["state"]
	if !ok {
		return nil
	}
	if state == "ON" {
		n.setDriver("GV0", 100)
	} else {
		n.setDriver("GV0", 0)
	}
	if err := n.setFields(data, []field{{"brightness", "GV1"}}); err != nil {
		return n.decodeError(payload, err)
	}
	if color, ok := data["color"].(map[string]any); ok {
		if err := n.setFields(color, ledFields); err != nil {
			return n.decodeError(payload, err)
		}
	}
	return nil
}

type ledColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type ledCommand struct {
	State      string   `json:"state"`
	Brightness int      `json:"brightness"`
	Color      ledColor `json:"color"`
	Transition int      `json:"transition,omitempty"`
	Flash      int      `json:"flash,omitempty"`
}

// setLED turns the LED on with the colour in cmd.Query: R, G, B and
// brightness I in 0..255, plus optional transition D and flash F seconds.
func (n *sensorNode) setLED(cmd Command) error {
	var vals [6]int
	for i, name := range []string{"R", "G", "B", "I", "D", "F"} {
		v, err := intParam(cmd.Query, name)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	out := ledCommand{
		State:      "ON",
		Brightness: clamp(vals[3], 0, 255),
		Color: ledColor{
			R: clamp(vals[0], 0, 255),
			G: clamp(vals[1], 0, 255),
			B: clamp(vals[2], 0, 255),
		},
		Transition: max(vals[4], 0),
		Flash:      max(vals[5], 0),
	}
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return n.publish(n.desc.CmdTopic, string(body))
}

func (n *sensorNode) Query() error { return n.reportOnly() }

// flagValues maps flag payloads onto ST. Anything else is ST 4 (error).
var flagValues = map[string]float64{
	"OK":      0,
	"NOK":     1,
	"LO":      2,
	"HI":      3,
	"IN":      5,
	"OUT":     6,
	"UP":      7,
	"DOWN":    8,
	"TRIGGER": 9,
	"ON":      10,
	"OFF":     11,
	"---":     12,
}

const flagError = 4

// flagNode reports one of a fixed set of status words.
type flagNode struct {
	*base
}

func newFlag(desc device.Descriptor, deps Deps) Node {
	n := &flagNode{
		base: newBase(desc, deps, Driver{Name: "ST", UOM: UOMIndex}),
	}
	n.handle(CmdReset, func(Command) error { return n.publish(n.desc.CmdTopic, "RESET") })
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *flagNode) UpdateInfo(payload []byte, _ string) error {
	v, ok := flagValues[string(payload)]
	if !ok {
		n.setDriver("ST", flagError)
		return n.decodeError(payload, errUnexpectedValue)
	}
	n.setDriver("ST", v)
	return nil
}

func (n *flagNode) Query() error {
	if err := n.publish(n.desc.CmdTopic, ""); err != nil {
		return err
	}
	n.reportDrivers()
	return nil
}

// distanceNode is an HC-SR04 ultrasonic sensor behind Tasmota.
type distanceNode struct {
	*base
}

func newDistance(desc device.Descriptor, deps Deps) Node {
	n := &distanceNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "DISTANC", UOM: UOMCentimeters},
		),
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *distanceNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}
	sr04, ok := data["SR04"].(map[string]any)
	if !ok {
		n.setDriver("ST", 0)
		n.setDriver("DISTANC", 0)
		return nil
	}
	n.setDriver("ST", 1)
	if err := n.setFields(sr04, []field{{"Distance", "DISTANC"}}); err != nil {
		return n.decodeError(payload, err)
	}
	return nil
}

func (n *distanceNode) Query() error { return n.reportOnly() }

var energyFields = []field{
	{"Current", "CC"},
	{"Power", "CPW"},
	{"Voltage", "CV"},
	{"Factor", "PF"},
	{"Total", "TPW"},
}

// s31Node is a Sonoff S31 power-monitoring plug.
type s31Node struct {
	*base
}

func newS31(desc device.Descriptor, deps Deps) Node {
	n := &s31Node{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "CC", UOM: UOMAmps},
			Driver{Name: "CPW", UOM: UOMWatts},
			Driver{Name: "CV", UOM: UOMVolts},
			Driver{Name: "PF", UOM: UOMPowerFactor},
			Driver{Name: "TPW", UOM: UOMKWh},
		),
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *s31Node) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}
	energy, ok := data["ENERGY"].(map[string]any)
	if !ok {
		n.setDriver("ST", 0)
		return nil
	}
	n.setDriver("ST", 1)
	if err := n.setFields(energy, energyFields); err != nil {
		return n.decodeError(payload, err)
	}
	return nil
}

func (n *s31Node) Query() error { return n.reportOnly() }

// rawNode reports an integer payload as is.
type rawNode struct {
	*base
}

func newRaw(desc device.Descriptor, deps Deps) Node {
	n := &rawNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "GV1", UOM: UOMRaw},
		),
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *rawNode) UpdateInfo(payload []byte, _ string) error {
	v, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return n.decodeError(payload, err)
	}
	n.setDriver("ST", 1)
	n.setDriver("GV1", float64(v))
	return nil
}

func (n *rawNode) Query() error { return n.reportOnly() }
