package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of sensitive attributes.
const RedactedValue = "[REDACTED]"

// Key fragments that mark an attribute as sensitive. Matching is
// case-insensitive on the attribute key.
var sensitiveFragments = []string{
	"secret",
	"passphrase",
	"password",
	"token",
	"authorization",
	"signature",
	"private",
}

// IsSensitive reports whether values logged under key must be redacted.
func IsSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// redactAttr masks sensitive attributes. The handler calls it for group
// members individually.
func redactAttr(attr slog.Attr) slog.Attr {
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return attr
}
