// Package node implements the per-type device nodes of the gateway.
//
// Each supported device type has a factory in a table keyed by
// device.Type. A node decodes the status messages of its device into
// drivers (named status values with a unit) and turns commands into MQTT
// publishes on the device's command topic.
//
// Nodes never touch the broker or the registry directly: outbound messages
// go through a Publisher and status changes through a Reporter, both
// supplied in Deps when the node is built.
//
// The controller node (TypeController) is the gateway's own node. It has no
// topics and exposes discovery and query-all as commands.
package node
