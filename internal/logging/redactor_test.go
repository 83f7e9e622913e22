package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_RedactFields(t *testing.T) {
	r := NewRedactor()

	fields := map[string]any{
		"username":    "alice",
		"Password":    "hunter2",
		"M2":          []byte{1, 2},
		"session_key": "abcd",
		"state":       "Succeeded",
		"key_size":    1024,
		"nested": map[string]any{
			"verifier": "0a1b",
			"conn":     "c1",
		},
	}

	redacted := r.RedactFields(fields)

	assert.Equal(t, "alice", redacted["username"])
	assert.Equal(t, redactedValue, redacted["Password"])
	assert.Equal(t, redactedValue, redacted["M2"])
	assert.Equal(t, redactedValue, redacted["session_key"])
	assert.Equal(t, "Succeeded", redacted["state"])
	assert.Equal(t, 1024, redacted["key_size"])

	nested, ok := redacted["nested"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, redactedValue, nested["verifier"])
	assert.Equal(t, "c1", nested["conn"])

	assert.Nil(t, r.RedactFields(nil))
}

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		redacted bool
	}{
		{name: "plain reason", input: "wrong username or password", redacted: false},
		{name: "key value", input: "login password=hunter2", redacted: true},
		{name: "yaml style", input: "salt: AAEC", redacted: true},
		{name: "json style", input: `{"m2":"abcd"}`, redacted: true},
		{name: "short key inside word", input: "data=0102 meta: x", redacted: false},
		{name: "short key as word", input: "sent a=0102", redacted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RedactString(tt.input)
			if tt.redacted {
				assert.Equal(t, redactedValue, got)
			} else {
				assert.Equal(t, tt.input, got)
			}
		})
	}
}

func TestRedactor_CustomKeys(t *testing.T) {
	r := NewRedactor()

	r.AddSensitiveKey("Pin")
	assert.Equal(t, redactedValue, r.RedactFields(map[string]any{"pin": 1234})["pin"])

	r.RemoveSensitiveKey("SALT")
	assert.Equal(t, "AAEC", r.RedactFields(map[string]any{"salt": "AAEC"})["salt"])
}
