package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPluginName(t *testing.T) {
	valid := []string{"echo", "mean-reversion", "arima_v2", "feeds.yahoo", "A1"}
	for _, name := range valid {
		assert.True(t, ValidPluginName(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"",
		"1leading-digit",
		"-leading-dash",
		".leading-dot",
		"has space",
		"path/../traversal",
		"semi;colon",
		strings.Repeat("x", MaxPluginNameLength+1),
	}
	for _, name := range invalid {
		assert.False(t, ValidPluginName(name), "expected %q to be invalid", name)
	}

	assert.True(t, ValidPluginName("x"+strings.Repeat("y", MaxPluginNameLength-1)), "exactly at the limit")
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", SanitizeErrorMessage(""))
	assert.Equal(t, "plain message", SanitizeErrorMessage("plain message"))
	assert.Equal(t, "line1\nline2\ttabbed", SanitizeErrorMessage("line1\nline2\ttabbed"))
	assert.Equal(t, "cleaned", SanitizeErrorMessage("cle\x00an\x01ed"))
}

func TestSanitizeErrorMessage_Truncates(t *testing.T) {
	long := strings.Repeat("e", MaxErrorMessageLength*2)
	got := SanitizeErrorMessage(long)
	assert.Len(t, got, MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestClampClaims(t *testing.T) {
	assert.Equal(t, 1, ClampClaims(0))
	assert.Equal(t, 1, ClampClaims(-5))
	assert.Equal(t, 3, ClampClaims(3))
	assert.Equal(t, MaxClaimCount, ClampClaims(MaxClaimCount+50))
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 8, ClampConcurrency(8))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(MaxConcurrency*2))
}
