// Package logging provides structured logging utilities for hostmcp.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Secret sanitization (API keys, bearer tokens)
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "tools/call")
//	logger.Info("tool finished",
//	    logging.Tool("echo"),
//	    logging.Status(logging.StatusSuccess))
//
// Sanitize secrets before logging:
//
//	logger.Debug("api key configured",
//	    slog.String("api_key", logging.SanitizeToken(key)))
//
// # Security Considerations
//
// API keys and bearer tokens are never logged directly; only their length is
// reported.
package logging
