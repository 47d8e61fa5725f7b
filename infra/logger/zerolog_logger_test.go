package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	assert.NoError(t, os.Setenv("APP_ENV", "dev"))
	defer func() { assert.NoError(t, os.Unsetenv("APP_ENV")) }()
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	require.NoError(t, Setup(Config{Level: "warn", Format: "json"}))
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := New("dispatch")
	l.Infof("hidden")
	l.Warnf("call %s out of step", "c1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "dispatch", rec["component"])
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "call c1 out of step", rec["message"])
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	assert.Error(t, Setup(Config{Level: "loud"}))
	assert.Error(t, Setup(Config{Format: "xml"}))
}
