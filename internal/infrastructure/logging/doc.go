// Package logging provides structured logging for the MQTT gateway.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text during development, with service and version fields on
// every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connected", "broker", addr)
//	logger.With("component", "dispatch").Debug("message dropped", "topic", topic)
//
// Never log broker passwords or API tokens.
package logging
