package node

import (
	"errors"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// TypeController is the type of the gateway's own node. It cannot be
// declared in the device list.
const TypeController device.Type = "controller"

// ControllerActions are the gateway operations the controller node exposes
// as commands.
type ControllerActions interface {
	// Discover runs one reconciliation pass.
	Discover() error
	// QueryAll re-reports the drivers of every node.
	QueryAll() error
}

// Controller is the gateway's own node. It is always present, owns no
// topics and reports the gateway status and heartbeat.
type Controller struct {
	*base
	actions ControllerActions
	beat    bool
}

// NewController creates the controller node at address.
func NewController(address, name string, actions ControllerActions, deps Deps) *Controller {
	if name == "" {
		name = "MQTT Gateway"
	}
	c := &Controller{
		base: newBase(device.Descriptor{
			ID:       address,
			Type:     TypeController,
			Name:     name,
			SensorID: device.SingleSensor,
		}, deps, Driver{Name: "ST", UOM: UOMBoolean}),
		actions: actions,
	}
	c.handle(CmdDiscover, func(Command) error { return c.actions.Discover() })
	c.handle(CmdQuery, func(Command) error { return c.Query() })
	return c
}

// UpdateInfo always fails; the controller owns no status topics.
func (c *Controller) UpdateInfo(payload []byte, _ string) error {
	return c.decodeError(payload, errors.New("controller has no status topic"))
}

// Query re-reports every node's drivers.
func (c *Controller) Query() error {
	return c.actions.QueryAll()
}

// SetOnline sets ST to 1 while the gateway runs and 0 once it stops.
func (c *Controller) SetOnline(online bool) {
	c.setDriver("ST", boolValue(online))
}

// Heartbeat reports DON and DOF on alternate calls, starting with DON.
func (c *Controller) Heartbeat() string {
	c.stateMu.Lock()
	c.beat = !c.beat
	on := c.beat
	c.stateMu.Unlock()

	cmd := ReportOff
	if on {
		cmd = ReportOn
	}
	c.reportCommand(cmd)
	return cmd
}
