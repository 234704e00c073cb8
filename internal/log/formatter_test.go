package log

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRejectsUnknownLevel(t *testing.T) {
	logger := logrus.New()
	err := Setup(logger, "chatty", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestJSONFormatterRenamesMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	require.NoError(t, Setup(logger, "debug", true))

	logger.WithField("owner", "u1").Debug("pending records counted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pending records counted", entry["message"])
	assert.Equal(t, "u1", entry["owner"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestTextFormatterHasTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	require.NoError(t, Setup(logger, "info", false))

	logger.Info("started")
	assert.Contains(t, buf.String(), "msg=started")
	assert.Contains(t, buf.String(), "time=")
}

func TestSince(t *testing.T) {
	fields := Since(time.Now().Add(-2 * time.Second))
	ms, ok := fields["duration_ms"].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ms, int64(2000))
}
