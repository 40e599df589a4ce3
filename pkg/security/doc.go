// Package security provides validation, sanitization, and limits for the
// marketplace core.
//
// This package includes:
//   - ValidPluginName for plugin name validation
//   - SanitizeErrorMessage for stored failure reasons
//   - Clamp helpers for reclaim limits and pool concurrency
package security
