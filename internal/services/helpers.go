package services

import (
	"context"
	"strings"
)

// ensureContext guards against nil contexts from callers and tests.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// normaliseEmail lowercases and trims an address for storage and comparison.
func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// strPtr returns a pointer to a trimmed copy of value, or nil when empty.
func strPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// deref returns the pointed-at string or the empty string.
func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
