package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restore(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
		log.SetReportCaller(false)
		log.SetOutput(os.Stderr)
	})
}

func TestSetupJSON(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Level: "debug", Format: "json", Output: &buf}))

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.WithField("session", "abc").Debug("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "abc", entry["session"])
}

func TestSetupDefaults(t *testing.T) {
	restore(t)
	require.NoError(t, Setup(Options{}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	restore(t)
	assert.Error(t, Setup(Options{Level: "chatty"}))
	assert.Error(t, Setup(Options{Format: "xml"}))
}
