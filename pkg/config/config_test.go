package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AMQP_ENABLED", "false")

	logger := logrus.New()
	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "deepgram", cfg.STT.DefaultVendor)
	assert.Equal(t, 16000, cfg.STT.SampleRate)
	assert.Equal(t, 3*time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 15*time.Second, cfg.Transport.ReadyTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AMQP_ENABLED", "false")
	t.Setenv("STT_VENDOR", "google")
	t.Setenv("WS_RECONNECT_DELAY", "5s")
	t.Setenv("STT_SAMPLE_RATE", "8000")

	logger := logrus.New()
	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, "google", cfg.STT.DefaultVendor)
	assert.Equal(t, 5*time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 8000, cfg.STT.SampleRate)
}

func TestValidateRejectsUnknownVendor(t *testing.T) {
	t.Setenv("AMQP_ENABLED", "false")
	t.Setenv("STT_VENDOR", "whisper-local")

	logger := logrus.New()
	_, err := Load(logger)
	assert.Error(t, err)
}

func TestValidateRequiresAMQPURL(t *testing.T) {
	t.Setenv("AMQP_ENABLED", "true")
	t.Setenv("AMQP_URL", "")

	logger := logrus.New()
	_, err := Load(logger)
	assert.Error(t, err)
}
