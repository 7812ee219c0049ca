package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSON(t *testing.T) {
	logger := log.New()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)

	require.NoError(t, Configure(logger, "debug", FormatJSON))
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	logger.WithField("deployment_id", "abc").Debug("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "abc", entry["deployment_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestConfigure_Text(t *testing.T) {
	logger := log.New()
	require.NoError(t, Configure(logger, "warn", FormatText))
	assert.Equal(t, log.WarnLevel, logger.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, logger.Formatter)
}

func TestConfigure_Errors(t *testing.T) {
	assert.EqualError(t, Configure(log.New(), "info", "xml"), "log format 'xml' is not recognized")
	assert.Error(t, Configure(log.New(), "loud", FormatText))
}
