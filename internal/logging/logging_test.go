package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONCarriesServiceFields(t *testing.T) {
	t.Cleanup(func() { Init("info", "text", false) })
	Init("debug", "json", true)

	var buf bytes.Buffer
	SetOutput(&buf)
	Log.WithField("thread_id", "thr_1").Debug("thread deleted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "threads-api", entry["service"])
	assert.Equal(t, false, entry["is_development"])
	assert.Equal(t, "thr_1", entry["thread_id"])
	assert.Equal(t, "thread deleted", entry["msg"])
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { Init("info", "text", false) })
	Init("loud", "text", false)
	assert.Equal(t, logrus.InfoLevel, Log.Logger.GetLevel())
}
