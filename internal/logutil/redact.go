package logutil

import (
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

// Attribute keys matching any of these fragments never reach the log
// output in clear text. The bot token and session secret both travel
// through slog fields, so masking happens at the handler boundary
// rather than at every call site.
var sensitiveKeyFragments = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"private_key",
	"api_key",
	"apikey",
	"authorization",
	"credential",
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		a.Value = slog.StringValue(redactedValue)
	}
	return a
}

func sanitizeValueByKey(key, value string) string {
	if isSensitiveKey(key) {
		return redactedValue
	}
	return value
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(k, fragment) {
			return true
		}
	}
	return false
}
