// Package nodes provides the live node registry of the gateway.
//
// The Registry holds every node keyed by its address. Discovery adds nodes
// asynchronously: Add queues the node, a worker goroutine stores it and
// then emits EventAdded, which is the creation confirmation discovery waits
// for. Deletion is synchronous.
//
// Nodes report driver values back through the Registry (it implements
// node.Reporter). Each value is written to SQLite, optionally to a
// MetricsWriter (InfluxDB) and emitted to listeners such as the WebSocket
// hub.
//
// On startup Restore rebuilds the stored nodes so that a restart does not
// recreate every device.
package nodes
