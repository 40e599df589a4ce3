package security

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits enforced before anything reaches storage.
const (
	// MaxPluginNameLength is the maximum length for plugin names.
	MaxPluginNameLength = 255

	// MaxInputSize is the maximum size in bytes for a request payload (1MB).
	MaxInputSize = 1 << 20

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096

	// MaxClaimCount is the hard limit for marketplace reclaim attempts.
	MaxClaimCount = 100

	// MaxConcurrency is the hard limit for orchestrator pool size.
	MaxConcurrency = 1000
)

// validPluginName matches alphanumeric, hyphens, underscores, and dots.
var validPluginName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidPluginName reports whether name is acceptable as a plugin name.
func ValidPluginName(name string) bool {
	if name == "" || len(name) > MaxPluginNameLength {
		return false
	}
	return validPluginName.MatchString(name)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampClaims ensures a reclaim limit is within bounds.
func ClampClaims(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxClaimCount {
		return MaxClaimCount
	}
	return n
}

// ClampConcurrency ensures pool concurrency is within bounds.
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
