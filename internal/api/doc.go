// Package api implements the HTTP REST API and WebSocket server of the MQTT
// gateway.
//
// This package provides:
//   - REST endpoints for nodes, node commands, the device list and notices
//   - A WebSocket hub relaying node events and notice changes
//   - Optional JWT bearer authentication
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API stands in for the controller UI. Commands go through the gateway
// to the node, which publishes them on the device's command topic. Driver
// changes and command reports flow back from the node registry and are
// broadcast to WebSocket clients subscribed to the matching channel.
//
// # Security
//
// With security.jwt.secret set every route except /health requires an HS256
// bearer token signed with that secret. Browsers that cannot set headers on
// a WebSocket upgrade pass the token as the "token" query parameter. With no
// secret the API is open and meant for local installs only.
package api
