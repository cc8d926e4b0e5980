package device

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Type identifies the decoder and command set of a device.
type Type string

// Supported device types. The names match the device list's "type" values.
const (
	TypeSwitch         Type = "switch"
	TypeDimmer         Type = "dimmer"
	TypeFan            Type = "ifan"
	TypeSensor         Type = "sensor"
	TypeFlag           Type = "flag"
	TypeTempHumid      Type = "TempHumid"
	TypeTemp           Type = "Temp"
	TypeTempHumidPress Type = "TempHumidPress"
	TypeDistance       Type = "distance"
	TypeShellyFlood    Type = "shellyflood"
	TypeAnalog         Type = "analog"
	TypeS31            Type = "s31"
	TypeRaw            Type = "raw"
	TypeRGBW           Type = "RGBW"
	TypeRatgdo         Type = "ratgdo"
)

// SingleSensor is the sensor_id given to descriptors that do not name one.
const SingleSensor = "SINGLE_SENSOR"

// TopicList is a status topic that may be written as a single string or a
// list of strings. It always holds at least one topic once loaded.
type TopicList []string

// UnmarshalJSON accepts "a/b" or ["a/b", "c/d"].
func (t *TopicList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TopicList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("status_topic must be a string or list of strings: %w", err)
	}
	*t = TopicList(many)
	return nil
}

// MarshalJSON writes a one-element list back as a plain string.
func (t TopicList) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// Primary returns the first status topic.
func (t TopicList) Primary() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Descriptor is one declared device. It is treated as immutable once a node
// has been created from it.
type Descriptor struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Name        string    `json:"name"`
	StatusTopic TopicList `json:"status_topic"`
	CmdTopic    string    `json:"cmd_topic"`
	SensorID    string    `json:"sensor_id"`
}

// Address returns the node address derived from the descriptor's id.
func (d Descriptor) Address() string {
	return DeriveAddress(d.ID)
}

// Clone returns a copy that shares no slices with d.
func (d Descriptor) Clone() Descriptor {
	d.StatusTopic = slices.Clone(d.StatusTopic)
	return d
}

// HasSensor reports whether the descriptor names a specific sensor.
func (d Descriptor) HasSensor() bool {
	return d.SensorID != "" && d.SensorID != SingleSensor
}
