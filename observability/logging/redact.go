package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the log verbatim.
var sensitiveKeys = map[string]bool{
	"authorization": true,
	"token":         true,
	"jwt":           true,
	"secret":        true,
	"password":      true,
	"dsn":           true,
}

// Sensitive reports whether values logged under key must be masked.
func Sensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskCredential hides the credential part of an Authorization style value.
// The scheme survives so operators can still tell bearer tokens from other
// schemes.
func MaskCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	scheme, _, found := strings.Cut(trimmed, " ")
	if !found {
		return RedactedValue
	}
	return scheme + " " + RedactedValue
}

// MaskField builds the attribute for key, masking the value when the key is
// sensitive.
func MaskField(key, value string) slog.Attr {
	if !Sensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskCredential(value))
}
