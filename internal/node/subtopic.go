package node

import (
	"fmt"
	"strings"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// shellyFloodNode is a Shelly Flood sensor. Each reading arrives on its own
// status topic; the last topic segment names it.
type shellyFloodNode struct {
	*base
}

func newShellyFlood(desc device.Descriptor, deps Deps) Node {
	n := &shellyFloodNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "CLITEMP", UOM: UOMFahrenheit},
			Driver{Name: "GV0", UOM: UOMBoolean},
			Driver{Name: "BATLVL", UOM: UOMPercent},
			Driver{Name: "GPV", UOM: UOMRaw},
		),
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

var shellyNumericTopics = map[string]string{
	"temperature": "CLITEMP",
	"battery":     "BATLVL",
	"error":       "GPV",
}

func (n *shellyFloodNode) UpdateInfo(payload []byte, topic string) error {
	suffix := lastSegment(topic)
	text := strings.TrimSpace(string(payload))

	if suffix == "flood" {
		n.setDriver("ST", 1)
		n.setDriver("GV0", boolValue(text == "true"))
		return nil
	}
	driver, ok := shellyNumericTopics[suffix]
	if !ok {
		return n.decodeError(payload, fmt.Errorf("unhandled topic %s", topic))
	}
	v, err := number(text)
	if err != nil {
		return n.decodeError(payload, err)
	}
	n.setDriver("ST", 1)
	n.setDriver(driver, v)
	return nil
}

func (n *shellyFloodNode) Query() error { return n.reportOnly() }

// ratgdo door states reported on GV1.
var ratgdoDoorStates = map[string]float64{
	"open":    1,
	"opening": 2,
	"stopped": 3,
	"closing": 4,
}

// ratgdoFlags maps a status sub-topic to its driver and the payload that
// means true.
var ratgdoFlags = map[string]struct {
	driver string
	truthy string
}{
	"availability": {"ST", "online"},
	"light":        {"GV0", "on"},
	"motion":       {"GV2", "detected"},
	"lock":         {"GV3", "locked"},
	"obstruction":  {"GV4", "obstructed"},
}

// ratgdoNode is a ratgdo garage door opener. Status arrives on
// <status_topic>/status/<item>; commands go to <cmd_topic>/command/<item>.
type ratgdoNode struct {
	*base
	commandBase string
}

func newRatgdo(desc device.Descriptor, deps Deps) Node {
	n := &ratgdoNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "GV0", UOM: UOMBoolean},
			Driver{Name: "GV1", UOM: UOMIndex},
			Driver{Name: "GV2", UOM: UOMBoolean},
			Driver{Name: "GV3", UOM: UOMBoolean},
			Driver{Name: "GV4", UOM: UOMBoolean},
		),
		commandBase: strings.TrimSuffix(desc.CmdTopic, "/") + "/command/",
	}
	for name, c := range map[string][2]string{
		CmdOn:     {"light", "on"},
		CmdOff:    {"light", "off"},
		CmdOpen:   {"door", "open"},
		CmdClose:  {"door", "close"},
		CmdStop:   {"door", "stop"},
		CmdLock:   {"lock", "lock"},
		CmdUnlock: {"lock", "unlock"},
	} {
		n.handle(name, func(Command) error {
			return n.publish(n.commandBase+c[0], c[1])
		})
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *ratgdoNode) UpdateInfo(payload []byte, topic string) error {
	suffix := lastSegment(topic)
	text := strings.TrimSpace(string(payload))

	if suffix == "door" {
		n.setDriver("GV1", ratgdoDoorStates[text])
		return nil
	}
	flag, ok := ratgdoFlags[suffix]
	if !ok {
		return n.decodeError(payload, fmt.Errorf("unhandled topic %s", topic))
	}
	n.setDriver(flag.driver, boolValue(text == flag.truthy))
	return nil
}

func (n *ratgdoNode) Query() error { return n.reportOnly() }
