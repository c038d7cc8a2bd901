package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the full runtime configuration for the coaching server.
type Config struct {
	// HTTPAddr is the listen address for the coordinator HTTP server
	HTTPAddr string

	// MetricsEnabled exposes the Prometheus endpoint when true
	MetricsEnabled bool

	// LogLevel is the logrus level name (debug, info, warn, error)
	LogLevel string

	// STT holds remote transcription settings
	STT STTConfig

	// Suggest holds completion-service settings
	Suggest SuggestConfig

	// AMQP holds transcript delivery settings
	AMQP AMQPConfig

	// Transport holds client channel tuning
	Transport TransportConfig
}

// STTConfig configures the remote transcription providers.
type STTConfig struct {
	// DefaultVendor selects the provider used for new sessions
	// (deepgram, google, amazon)
	DefaultVendor string

	// SampleRate is the PCM sample rate expected at the transport boundary
	SampleRate int

	// Language is the recognition language code
	Language string

	DeepgramAPIKey string
	DeepgramAPIURL string

	GoogleAPIKey          string
	GoogleCredentialsFile string

	AmazonRegion          string
	AmazonAccessKeyID     string
	AmazonSecretAccessKey string
}

// SuggestConfig configures the coaching completion service.
type SuggestConfig struct {
	APIKey string
	APIURL string
	Model  string

	// Timeout bounds one completion round-trip
	Timeout time.Duration
}

// AMQPConfig configures delivery of completed session transcripts.
type AMQPConfig struct {
	URL       string
	QueueName string

	// Enabled disables publishing entirely when false (useful for tests)
	Enabled bool
}

// TransportConfig tunes the operator-side channel.
type TransportConfig struct {
	// ReconnectDelay is the fixed wait before redialing a dropped channel
	ReconnectDelay time.Duration

	// ReadyTimeout bounds the wait for the channel to become fully open
	ReadyTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults.
// A missing .env file is not an error; explicit environment wins.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("No .env file loaded, using environment")
	}

	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		STT: STTConfig{
			DefaultVendor:         getEnv("STT_VENDOR", "deepgram"),
			SampleRate:            getEnvInt("STT_SAMPLE_RATE", 16000),
			Language:              getEnv("STT_LANGUAGE", "pl"),
			DeepgramAPIKey:        os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramAPIURL:        getEnv("DEEPGRAM_API_URL", "wss://api.deepgram.com/v1/listen"),
			GoogleAPIKey:          os.Getenv("GOOGLE_STT_API_KEY"),
			GoogleCredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			AmazonRegion:          getEnv("AWS_REGION", "us-east-1"),
			AmazonAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			AmazonSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		Suggest: SuggestConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			APIURL:  getEnv("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("SUGGEST_TIMEOUT", 30*time.Second),
		},
		AMQP: AMQPConfig{
			URL:       os.Getenv("AMQP_URL"),
			QueueName: getEnv("AMQP_QUEUE_NAME", "session_transcripts"),
			Enabled:   getEnvBool("AMQP_ENABLED", true),
		},
		Transport: TransportConfig{
			ReconnectDelay: getEnvDuration("WS_RECONNECT_DELAY", 3*time.Second),
			ReadyTimeout:   getEnvDuration("WS_READY_TIMEOUT", 15*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration combinations that cannot work.
func (c *Config) Validate() error {
	switch c.STT.DefaultVendor {
	case "deepgram", "google", "amazon":
	default:
		return fmt.Errorf("unsupported STT vendor: %s", c.STT.DefaultVendor)
	}

	if c.STT.SampleRate <= 0 {
		return fmt.Errorf("invalid STT sample rate: %d", c.STT.SampleRate)
	}

	if c.Transport.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}
	if c.Transport.ReadyTimeout <= 0 {
		return fmt.Errorf("ready timeout must be positive")
	}

	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return fmt.Errorf("AMQP_URL is required when AMQP is enabled")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
