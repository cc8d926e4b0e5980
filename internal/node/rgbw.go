package node

import (
	"encoding/json"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// rgbwNode is an RGBW LED strip controller.
type rgbwNode struct {
	*base
}

var stripColorFields = []field{
	{"r", "GV2"},
	{"g", "GV3"},
	{"b", "GV4"},
	{"w", "GV5"},
}

func newRGBW(desc device.Descriptor, deps Deps) Node {
	n := &rgbwNode{
		base: newBase(desc, deps,
			Driver{Name: "ST", UOM: UOMBoolean},
			Driver{Name: "GV0", UOM: UOMOnOff},
			Driver{Name: "GV1", UOM: UOMLevel255},
			Driver{Name: "GV2", UOM: UOMLevel255},
			Driver{Name: "GV3", UOM: UOMLevel255},
			Driver{Name: "GV4", UOM: UOMLevel255},
			Driver{Name: "GV5", UOM: UOMLevel255},
			Driver{Name: "GV6", UOM: UOMLevel255},
		),
	}
	n.handle(CmdOn, func(Command) error { return n.publish(n.desc.CmdTopic, `{"state":"ON"}`) })
	n.handle(CmdOff, func(Command) error { return n.publish(n.desc.CmdTopic, `{"state":"OFF"}`) })
	n.handle(CmdSetRGBW, n.setRGBW)
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *rgbwNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
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
	if err := n.setFields(data, []field{{"br", "GV1"}, {"pgm", "GV6"}}); err != nil {
		return n.decodeError(payload, err)
	}
	if c, ok := data["c"].(map[string]any); ok {
		if err := n.setFields(c, stripColorFields); err != nil {
			return n.decodeError(payload, err)
		}
	}
	return nil
}

type stripColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
	W int `json:"w"`
}

type stripCommand struct {
	State      string     `json:"state"`
	Brightness int        `json:"br"`
	Color      stripColor `json:"c"`
	Program    int        `json:"pgm"`
}

// setRGBW sets colour R, G, B, W, brightness I and program P, each 0..255.
func (n *rgbwNode) setRGBW(cmd Command) error {
	var vals [6]int
	for i, name := range []string{"R", "G", "B", "W", "I", "P"} {
		v, err := intParam(cmd.Query, "STRIP"+name, name)
		if err != nil {
			return err
		}
		vals[i] = clamp(v, 0, 255)
	}
	body, err := json.Marshal(stripCommand{
		State:      "ON",
		Brightness: vals[4],
		Color:      stripColor{R: vals[0], G: vals[1], B: vals[2], W: vals[3]},
		Program:    vals[5],
	})
	if err != nil {
		return err
	}
	return n.publish(n.desc.CmdTopic, string(body))
}

func (n *rgbwNode) Query() error { return n.reportOnly() }
