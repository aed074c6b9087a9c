// Package logging provides structured logging for the Zigbee gateway.
//
// It wraps log/slog so every component logs with the same shape: JSON in
// production, text in development, and the service and version fields on
// every entry.
//
// Logging is configured via the logging section of the config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("dispatch").Info("write queued", "device", id)
//
// Never log secrets, tokens or network keys.
package logging
