package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/booking-core/internal/config"
)

func TestNew_Level(t *testing.T) {
	logger, closer := New(config.ServerConfig{LogLevel: "debug"})
	defer closer.Close()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger, closer = New(config.ServerConfig{LogLevel: "chatty"})
	defer closer.Close()
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booking.log")

	logger, closer := New(config.ServerConfig{LogLevel: "info", LogFile: path})
	logger.WithField("booking_id", "b-1").Info("Booking created")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "Booking created", entry["msg"])
	assert.Equal(t, "b-1", entry["booking_id"])
	assert.Equal(t, "info", entry["level"])
}
