package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveFragments mark attribute keys whose string values never reach the
// sink, wherever they appear in a key.
var sensitiveFragments = []string{"secret", "token", "password", "apikey", "api_key", "dsn", "authorization", "bearer"}

// IsSensitive reports whether a log key names a credential.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskValue hides a non-empty value. Empty values pass through.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField always masks value under key.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// redactAttr masks string attributes with sensitive keys. It runs as part of
// the handler's ReplaceAttr hook, so callers cannot leak a secret by logging
// it under an obvious name.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
