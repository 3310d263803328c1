package logger

import (
	"bytes"
	"encoding/json"
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
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLevelsAndFields(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	assert.Empty(t, buf.String())

	Warn("provider slow", "provider", "ses", "latency_ms", 1200)
	e := lastEntry(t, buf)
	assert.Equal(t, "WARN", e["level"])
	assert.Equal(t, "provider slow", e["msg"])
	assert.Equal(t, "ses", e["provider"])
	assert.Equal(t, "1200", e["latency_ms"])
}

func TestRedaction(t *testing.T) {
	buf := capture(t)

	Info("suppressed", "recipient_email", "john.doe@example.com", "detail", "bounce for ab@x.org")
	e := lastEntry(t, buf)
	assert.Equal(t, "jo***@example.com", e["recipient_email"])
	assert.Equal(t, "bounce for ***@x.org", e["detail"])

	SetRedactPII(false)
	Info("raw", "email", "john.doe@example.com")
	assert.Equal(t, "john.doe@example.com", lastEntry(t, buf)["email"])
}

func TestWith(t *testing.T) {
	buf := capture(t)

	log := With("component", "dispatch")
	log.With("event_id", "e1").Error("send failed", "provider", "mailgun")

	e := lastEntry(t, buf)
	assert.Equal(t, "dispatch", e["component"])
	assert.Equal(t, "e1", e["event_id"])
	assert.Equal(t, "mailgun", e["provider"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("Warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
