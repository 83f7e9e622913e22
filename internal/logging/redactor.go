package logging

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// Redactor handles secret redaction in log fields.
type Redactor struct {
	sensitiveKeys map[string]bool
}

// NewRedactor creates a new Redactor with default sensitive keys.
func NewRedactor() *Redactor {
	return &Redactor{
		sensitiveKeys: map[string]bool{
			// Credentials
			"password":   true,
			"secret":     true,
			"verifier":   true,
			"salt":       true, // Salt is public on the wire, but redact by default
			"credential": true,

			// SRP exchange values
			"a":     true, // ephemeral private (active)
			"b":     true, // ephemeral private (passive)
			"x":     true, // private key derived from the password
			"s":     true, // raw shared secret
			"k":     true,
			"m":     true, // active proof
			"m1":    true,
			"m2":    true, // passive proof
			"proof": true,

			// Derived keys
			"key":         true,
			"session_key": true,
			"cipher_key":  true,
			"private_key": true,
		},
	}
}

// AddSensitiveKey adds a custom key to the redaction list.
func (r *Redactor) AddSensitiveKey(key string) {
	r.sensitiveKeys[strings.ToLower(key)] = true
}

// RemoveSensitiveKey removes a key from the redaction list.
func (r *Redactor) RemoveSensitiveKey(key string) {
	delete(r.sensitiveKeys, strings.ToLower(key))
}

// RedactFields redacts sensitive values from a map of fields.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	redacted := make(map[string]any, len(fields))

	for k, v := range fields {
		if r.isSensitiveKey(k) {
			redacted[k] = redactedValue
		} else if nested, ok := v.(map[string]any); ok {
			// Recursively redact nested maps
			redacted[k] = r.RedactFields(nested)
		} else if str, ok := v.(string); ok {
			redacted[k] = r.RedactString(str)
		} else {
			redacted[k] = v
		}
	}

	return redacted
}

// RedactString redacts sensitive values from a string by checking for key patterns.
func (r *Redactor) RedactString(s string) string {
	lower := strings.ToLower(s)

	for key := range r.sensitiveKeys {
		// Look for patterns like "key=value" or "key: value"
		patterns := []string{
			key + "=",
			key + ": ",
			"\"" + key + "\":",
		}

		for _, pattern := range patterns {
			if containsWord(lower, pattern) {
				// Found a potential secret - redact the whole line for safety
				return redactedValue
			}
		}
	}

	return s
}

// containsWord reports whether pattern occurs in s at the start of a word, so
// that short keys such as "a" do not match inside "data=".
func containsWord(s, pattern string) bool {
	for offset := 0; ; {
		i := strings.Index(s[offset:], pattern)
		if i < 0 {
			return false
		}
		i += offset
		if i == 0 || !isWordByte(s[i-1]) {
			return true
		}
		offset = i + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// isSensitiveKey checks if a field key is marked as sensitive.
func (r *Redactor) isSensitiveKey(key string) bool {
	// Only check exact match (case-insensitive)
	// Substring matching was too aggressive and caught legitimate fields
	return r.sensitiveKeys[strings.ToLower(key)]
}
