package node

import (
	"fmt"
	"math"
	"slices"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// inHgPerHPa converts hectopascals to inches of mercury.
const inHgPerHPa = 0.02952998751

// queryPayload asks Tasmota for its sensor status (STATUS 10).
const queryPayload = " 10"

// climateNode decodes the per-sensor sections of Tasmota SENSOR telemetry
// and STATUS10 replies.
//
// A single-sensor descriptor also accepts the section named after the
// sensor family (e.g. "DS18B20"), which is how Tasmota labels a lone sensor.
type climateNode struct {
	*base
	family string
	fields []field
	// convert post-processes a reading before it is stored.
	convert map[string]func(float64) float64
}

func newClimate(desc device.Descriptor, deps Deps, family string, fields []field, drivers ...Driver) *climateNode {
	n := &climateNode{
		base:   newBase(desc, deps, drivers...),
		family: family,
		fields: fields,
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func newTempHumid(desc device.Descriptor, deps Deps) Node {
	return newClimate(desc, deps, "AM2301",
		[]field{{"Temperature", "CLITEMP"}, {"Humidity", "CLIHUM"}, {"DewPoint", "DEWPT"}},
		Driver{Name: "ST", UOM: UOMBoolean},
		Driver{Name: "CLITEMP", UOM: UOMFahrenheit},
		Driver{Name: "CLIHUM", UOM: UOMHumidity},
		Driver{Name: "DEWPT", UOM: UOMFahrenheit},
	)
}

func newTemp(desc device.Descriptor, deps Deps) Node {
	return newClimate(desc, deps, "DS18B20",
		[]field{{"Temperature", "CLITEMP"}},
		Driver{Name: "ST", UOM: UOMBoolean},
		Driver{Name: "CLITEMP", UOM: UOMFahrenheit},
	)
}

func newTempHumidPress(desc device.Descriptor, deps Deps) Node {
	n := newClimate(desc, deps, "BME280",
		[]field{{"Temperature", "CLITEMP"}, {"Humidity", "CLIHUM"}, {"DewPoint", "DEWPT"}, {"Pressure", "BARPRES"}},
		Driver{Name: "ST", UOM: UOMBoolean},
		Driver{Name: "CLITEMP", UOM: UOMFahrenheit},
		Driver{Name: "CLIHUM", UOM: UOMHumidity},
		Driver{Name: "DEWPT", UOM: UOMFahrenheit},
		Driver{Name: "BARPRES", UOM: UOMInchesHg},
	)
	n.convert = map[string]func(float64) float64{
		"BARPRES": hPaToInHg,
	}
	return n
}

// hPaToInHg converts and rounds to two decimals.
func hPaToInHg(hpa float64) float64 {
	return math.Round(hpa*inHgPerHPa*100) / 100
}

// section finds this node's reading in the payload.
func (n *climateNode) section(data map[string]any) (map[string]any, bool) {
	if s, ok := data[n.desc.SensorID].(map[string]any); ok {
		return s, true
	}
	if !n.desc.HasSensor() {
		if s, ok := data[n.family].(map[string]any); ok {
			return s, true
		}
	}
	return nil, false
}

func (n *climateNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}
	reading, ok := n.section(unwrapStatus(data))
	if !ok {
		n.setDriver("ST", 0)
		return nil
	}

	values := make(map[string]float64, len(n.fields))
	for _, f := range n.fields {
		v, ok := reading[f.key]
		if !ok {
			continue
		}
		num, err := number(v)
		if err != nil {
			return n.decodeError(payload, fmt.Errorf("%s: %w", f.key, err))
		}
		if conv, ok := n.convert[f.driver]; ok {
			num = conv(num)
		}
		values[f.driver] = num
	}

	n.setDriver("ST", 1)
	for _, f := range n.fields {
		if v, ok := values[f.driver]; ok {
			n.setDriver(f.driver, v)
		}
	}
	return nil
}

// Query requests STATUS 10 on <cmd_topic base>/Status.
func (n *climateNode) Query() error {
	if err := n.publish(siblingTopic(n.desc.CmdTopic, "Status"), queryPayload); err != nil {
		return err
	}
	n.reportDrivers()
	return nil
}

// analogNode reads one channel of the Tasmota ANALOG section.
type analogNode struct {
	*base
}

func newAnalog(desc device.Descriptor, deps Deps) Node {
	n := &analogNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "GPV", UOM: UOMRaw},
		),
	}
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *analogNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}
	analog, ok := unwrapStatus(data)["ANALOG"].(map[string]any)
	if !ok {
		n.setDriver("ST", 0)
		n.setDriver("GPV", 0)
		return nil
	}

	var raw any
	if n.desc.HasSensor() {
		raw, ok = analog[n.desc.SensorID]
	} else {
		// A single-sensor device takes the only reading; with several
		// channels the first in key order wins.
		keys := make([]string, 0, len(analog))
		for k := range analog {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		if len(keys) > 0 {
			raw, ok = analog[keys[0]], true
		}
	}
	if !ok {
		n.setDriver("ST", 0)
		return nil
	}

	v, err := number(raw)
	if err != nil {
		return n.decodeError(payload, err)
	}
	n.setDriver("ST", 1)
	n.setDriver("GPV", v)
	return nil
}

func (n *analogNode) Query() error {
	if err := n.publish(siblingTopic(n.desc.CmdTopic, "Status"), queryPayload); err != nil {
		return err
	}
	n.reportDrivers()
	return nil
}
