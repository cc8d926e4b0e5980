// Package influxdb writes node driver values to InfluxDB v2.
//
// Every driver update the node registry accepts can be mirrored here as a
// point in the node_drivers measurement. The integration is optional:
// with influxdb.enabled false, Connect returns ErrDisabled and the gateway
// runs without metrics.
//
//	influxdb:
//	  enabled: true
//	  url: "http://localhost:8086"
//	  token: ""          # prefer MQTTGW_INFLUXDB_TOKEN
//	  org: "home"
//	  bucket: "gateway"
package influxdb
