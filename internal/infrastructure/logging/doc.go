// Package logging provides structured logging for SmartPlant Core.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same shape: JSON in production, text during development,
// and service/version fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("measurement stored", "plant_id", id)
//	logger.Component("mqtt").Error("publish failed", "error", err)
//
// Never log passwords, bot tokens or API keys.
package logging
