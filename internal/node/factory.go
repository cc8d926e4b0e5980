package node

import (
	"fmt"
	"slices"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// Factory builds a node for one descriptor.
type Factory func(desc device.Descriptor, deps Deps) Node

// factories maps each supported device type to its constructor.
// Adding a device type means adding an entry here.
var factories = map[device.Type]Factory{
	device.TypeSwitch:         newSwitch,
	device.TypeDimmer:         newDimmer,
	device.TypeFan:            newFan,
	device.TypeSensor:         newSensor,
	device.TypeFlag:           newFlag,
	device.TypeTempHumid:      newTempHumid,
	device.TypeTemp:           newTemp,
	device.TypeTempHumidPress: newTempHumidPress,
	device.TypeDistance:       newDistance,
	device.TypeShellyFlood:    newShellyFlood,
	device.TypeAnalog:         newAnalog,
	device.TypeS31:            newS31,
	device.TypeRaw:            newRaw,
	device.TypeRGBW:           newRGBW,
	device.TypeRatgdo:         newRatgdo,
}

// New builds the node for desc.
//
// Returns ErrUnsupportedType if no factory is registered for desc.Type.
func New(desc device.Descriptor, deps Deps) (Node, error) {
	factory, ok := factories[desc.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, desc.Type)
	}
	return factory(desc, deps), nil
}

// Supported reports whether t has a factory.
func Supported(t device.Type) bool {
	_, ok := factories[t]
	return ok
}

// Types returns the supported device types in sorted order.
func Types() []device.Type {
	types := make([]device.Type, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
