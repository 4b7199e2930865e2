package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces client-identifying values in request logs.
const RedactedValue = "[REDACTED]"

// requestFields are the access-log keys that may be written verbatim. Anything
// else passed through MaskField is treated as client-identifying.
var requestFields = map[string]struct{}{
	"method":     {},
	"path":       {},
	"route":      {},
	"status":     {},
	"request_id": {},
	"duration":   {},
	"bytes":      {},
	"error":      {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := requestFields[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. Empty values pass through unchanged.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
