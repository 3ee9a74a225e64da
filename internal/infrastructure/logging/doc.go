// Package logging provides structured logging for MeshLab Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for development, and service/version attributes on
// every record. Components take a child logger:
//
//	logger := logging.New(cfg.Logging, version)
//	feedLog := logger.Component("bridge")
//	feedLog.Warn("dropping unparseable payload", "topic", topic)
//
// Never log broker passwords, JWT secrets or bearer tokens.
package logging
