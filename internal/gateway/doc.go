// Package gateway wires the MQTT device gateway together and runs it.
//
// Start follows the sequence the controller UI expects:
//
//  1. Post the "hello" notice.
//  2. Load the device list (devices.file, else devices.list) and, while
//     there is none, poll every gateway.config_wait with a "waiting" notice.
//  3. Restore stored nodes and attach the controller node.
//  4. Connect to the broker, retrying every mqtt.reconnect.initial_delay
//     with an "mqtt" notice until it answers.
//  5. Clear all notices, run the first discovery pass, subscribe and query
//     every node.
//
// After that the gateway reacts to reload triggers: the device file watcher,
// SIGHUP (via Reload), the API and the controller's DISCOVER command. Each
// trigger runs one discovery pass and applies its subscription changes.
//
// A Heartbeat toggles the controller's DON/DOF report and publishes a
// retained health message next to the gateway status topic.
package gateway
