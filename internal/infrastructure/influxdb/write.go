package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// driverMeasurement is the measurement every driver update is written to.
const driverMeasurement = "node_drivers"

// WriteDriver records one driver value of a node.
//
// Tags: address, node_type, driver, uom. Field: value.
// The write is buffered; it is a no-op on a nil or closed client.
func (c *Client) WriteDriver(address, nodeType, driver string, value float64, uom int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(driverPoint(address, nodeType, driver, value, uom, time.Now()))
}

func driverPoint(address, nodeType, driver string, value float64, uom int, ts time.Time) *write.Point {
	return write.NewPoint(
		driverMeasurement,
		map[string]string{
			"address":   address,
			"node_type": nodeType,
			"driver":    driver,
			"uom":       strconv.Itoa(uom),
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}
