package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(INFO)
	SetRedactPII(true)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestInfoWritesStructuredEntry(t *testing.T) {
	buf := capture(t)

	Info("dispatch sent", "mail_id", "m-1", "attempt", 2)

	entry := lastEntry(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "dispatch sent", entry["msg"])
	assert.Equal(t, "m-1", entry["mail_id"])
	assert.EqualValues(t, 2, entry["attempt"])
	assert.Contains(t, entry, "time")
}

func TestEmailFieldsAreRedacted(t *testing.T) {
	buf := capture(t)

	Info("contact created", "email", "john.doe@example.com")
	assert.Equal(t, "jo***@example.com", lastEntry(t, buf)["email"])

	Warn("send failed", "error", errors.New("rcpt jane@example.org rejected"))
	assert.Equal(t, "rcpt ja***@example.org rejected", lastEntry(t, buf)["error"])
}

func TestRedactionCanBeDisabled(t *testing.T) {
	buf := capture(t)
	SetRedactPII(false)
	t.Cleanup(func() { SetRedactPII(true) })

	Info("contact created", "email", "john.doe@example.com")
	assert.Equal(t, "john.doe@example.com", lastEntry(t, buf)["email"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)

	Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel(DEBUG)
	Debug("shown")
	assert.Equal(t, "DEBUG", lastEntry(t, buf)["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"john.doe@example.com": "jo***@example.com",
		"ab@example.com":       "***@example.com",
		"not-an-email":         "***@***",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactEmail(in), in)
	}
}
