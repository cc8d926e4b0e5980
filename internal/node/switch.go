package node

import (
	"strconv"
	"strings"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// switchNode is an on/off relay that reports "ON" or "OFF".
type switchNode struct {
	*base
	on bool
}

func newSwitch(desc device.Descriptor, deps Deps) Node {
	n := &switchNode{
		base: newBase(desc, deps, Driver{Name: "ST", UOM: UOMOnOff}),
	}
	n.handle(CmdOn, func(Command) error {
		n.setState(true)
		return n.publish(n.desc.CmdTopic, "ON")
	})
	n.handle(CmdOff, func(Command) error {
		n.setState(false)
		return n.publish(n.desc.CmdTopic, "OFF")
	})
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

// setState records the commanded state so the status echo is not reported
// as an edge.
func (n *switchNode) setState(on bool) {
	n.stateMu.Lock()
	n.on = on
	n.stateMu.Unlock()
}

func (n *switchNode) UpdateInfo(payload []byte, _ string) error {
	var on bool
	switch strings.TrimSpace(string(payload)) {
	case "ON":
		on = true
	case "OFF":
	default:
		return n.decodeError(payload, errUnexpectedValue)
	}

	n.stateMu.Lock()
	changed := n.on != on
	n.on = on
	n.stateMu.Unlock()

	if changed {
		if on {
			n.reportCommand(ReportOn)
		} else {
			n.reportCommand(ReportOff)
		}
	}
	if on {
		n.setDriver("ST", 100)
	} else {
		n.setDriver("ST", 0)
	}
	return nil
}

func (n *switchNode) Query() error {
	if err := n.publish(n.desc.CmdTopic, ""); err != nil {
		return err
	}
	n.reportDrivers()
	return nil
}

const (
	dimmerDefaultLevel = 10
	dimmerStep         = 10
	dimmerMax          = 100
)

// dimmerNode is a Tasmota dimmer reporting {"Dimmer": n, "POWER": "ON"}.
type dimmerNode struct {
	*base
	level int
}

func newDimmer(desc device.Descriptor, deps Deps) Node {
	n := &dimmerNode{
		base: newBase(desc, deps, Driver{Name: "ST", UOM: UOMPercent}),
	}
	n.handle(CmdOn, n.cmdOn)
	n.handle(CmdOff, func(Command) error {
		return n.publish(n.desc.CmdTopic, "0")
	})
	n.handle(CmdBrighten, func(Command) error { return n.step(dimmerStep) })
	n.handle(CmdDim, func(Command) error { return n.step(-dimmerStep) })
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *dimmerNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}

	n.stateMu.Lock()
	prev := n.level
	level := prev
	if v, ok := data["Dimmer"]; ok {
		f, err := number(v)
		if err != nil {
			n.stateMu.Unlock()
			return n.decodeError(payload, err)
		}
		level = int(f)
	}
	power, _ := data["POWER"].(string)
	n.level = level
	n.stateMu.Unlock()

	if power == "ON" || (prev == 0 && level > 0) {
		n.reportCommand(ReportOn)
		n.setDriver("ST", float64(level))
	}
	if power == "OFF" || (prev > 0 && level == 0) {
		n.reportCommand(ReportOff)
		n.setDriver("ST", 0)
	}
	return nil
}

func (n *dimmerNode) cmdOn(cmd Command) error {
	n.stateMu.Lock()
	level := n.level
	if cmd.Value != "" {
		v, err := strconv.Atoi(strings.TrimSpace(cmd.Value))
		if err != nil {
			n.deps.Logger.Warn("invalid dimmer level, using default", "address", n.address, "value", cmd.Value)
			v = dimmerDefaultLevel
		}
		level = clamp(v, 0, dimmerMax)
	}
	if level == 0 {
		level = dimmerDefaultLevel
	}
	n.level = level
	n.stateMu.Unlock()

	n.setDriver("ST", float64(level))
	return n.publish(n.desc.CmdTopic, itoa(level))
}

func (n *dimmerNode) step(delta int) error {
	n.stateMu.Lock()
	n.level = clamp(n.level+delta, 0, dimmerMax)
	level := n.level
	n.stateMu.Unlock()

	if err := n.publish(n.desc.CmdTopic, itoa(level)); err != nil {
		return err
	}
	n.setDriver("ST", float64(level))
	return nil
}

// Query asks the dimmer for its state on <cmd_topic base>/State.
func (n *dimmerNode) Query() error {
	if err := n.publish(siblingTopic(n.desc.CmdTopic, "State"), ""); err != nil {
		return err
	}
	n.reportDrivers()
	return nil
}

const (
	fanMaxSpeed     = 3
	fanDefaultSpeed = 3
)

// fanNode is a Sonoff iFan reporting {"FanSpeed": 0..3}.
type fanNode struct {
	*base
	speed int
}

func newFan(desc device.Descriptor, deps Deps) Node {
	n := &fanNode{
		base: newBase(desc, deps, Driver{Name: "ST", UOM: UOMIndex}),
	}
	n.handle(CmdOn, n.cmdOn)
	n.handle(CmdOff, func(Command) error { return n.setSpeed(0) })
	n.handle(CmdFanUp, func(Command) error { return n.publish(n.desc.CmdTopic, "+") })
	n.handle(CmdFanDown, func(Command) error { return n.publish(n.desc.CmdTopic, "-") })
	n.handle(CmdQuery, func(Command) error { return n.Query() })
	return n
}

func (n *fanNode) UpdateInfo(payload []byte, _ string) error {
	data, err := decodeObject(payload)
	if err != nil {
		return n.decodeError(payload, err)
	}
	f, err := number(data["FanSpeed"])
	if err != nil {
		return n.decodeError(payload, err)
	}
	speed := int(f)
	if speed < 0 || speed > fanMaxSpeed {
		return n.decodeError(payload, errUnexpectedValue)
	}

	n.stateMu.Lock()
	prev := n.speed
	n.speed = speed
	n.stateMu.Unlock()

	if prev == 0 && speed > 0 {
		n.reportCommand(ReportOn)
	}
	if prev > 0 && speed == 0 {
		n.reportCommand(ReportOff)
	}
	n.setDriver("ST", float64(speed))
	return nil
}

// cmdOn sets the requested speed. A missing or out-of-range speed means high.
func (n *fanNode) cmdOn(cmd Command) error {
	speed, err := strconv.Atoi(strings.TrimSpace(cmd.Value))
	if err != nil || speed < 0 || speed > fanMaxSpeed {
		n.deps.Logger.Info("unexpected fan speed, assuming high", "address", n.address, "value", cmd.Value)
		speed = fanDefaultSpeed
	}
	return n.setSpeed(speed)
}

func (n *fanNode) setSpeed(speed int) error {
	n.stateMu.Lock()
	n.speed = speed
	n.stateMu.Unlock()

	n.setDriver("ST", float64(speed))
	return n.publish(n.desc.CmdTopic, itoa(speed))
}

func (n *fanNode) Query() error {
	if err := n.publish(n.desc.CmdTopic, ""); err != nil {
		return err
	}
	n.reportDrivers()
	return nil
}
