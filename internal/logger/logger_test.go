package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, NewLogger(false).GetLevel())
	assert.Equal(t, logrus.DebugLevel, NewLogger(true).GetLevel())
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "json")
	require.NoError(t, err)

	log.WithField("table", "users").Info("hidden")
	log.WithField("table", "users").Warn("drops skipped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "drops skipped", entry["msg"])
	assert.Equal(t, "users", entry["table"])
	assert.Equal(t, "warning", entry["level"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "")
	require.NoError(t, err)

	log.WithField("component", "reconcile").Debug("table created")
	assert.Contains(t, buf.String(), `msg="table created"`)
	assert.Contains(t, buf.String(), "component=reconcile")
}

func TestNewInvalid(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", "text")
	assert.ErrorContains(t, err, "invalid log level")

	_, err = New(&bytes.Buffer{}, "info", "xml")
	assert.EqualError(t, err, "invalid log format: xml")
}

func TestDiscard(t *testing.T) {
	log := Discard()
	hook := test.NewLocal(log.Logger)

	log.Error("dropped")
	assert.Empty(t, hook.AllEntries())

	log.SetLevel(logrus.InfoLevel)
	log.Info("kept")
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "kept", hook.LastEntry().Message)
}
