package stt

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoProviderAvailable is returned when neither the requested nor the
	// default provider is registered.
	ErrNoProviderAvailable = errors.New("no speech-to-text provider available")

	// ErrInitializationFailed is returned when a provider is used before a
	// successful Initialize.
	ErrInitializationFailed = errors.New("speech-to-text provider not initialized")
)

// TranscriptionCallback receives recognition results as they arrive.
// metadata carries provider-specific extras such as confidence, language
// and the diarized speaker label.
type TranscriptionCallback func(sessionID, transcription string, isFinal bool, metadata map[string]interface{})

// Provider defines the interface for speech-to-text providers.
type Provider interface {
	// Initialize initializes the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// StreamToText streams PCM audio to the provider until the stream ends
	StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error
}

// StreamingProvider extends Provider with real-time result delivery.
type StreamingProvider interface {
	Provider

	// SetCallback sets the callback for real-time transcription results
	SetCallback(callback TranscriptionCallback)
}

// ProviderManager manages all speech-to-text providers.
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
}

// NewProviderManager creates a new provider manager.
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider initializes and registers a speech-to-text provider.
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")

	return nil
}

// GetProvider returns a provider by name.
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider.
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// StreamToProvider streams session audio to the named provider, falling
// back to the default provider when the name is unknown.
func (m *ProviderManager) StreamToProvider(ctx context.Context, providerName string, audioStream io.Reader, sessionID string) error {
	startTime := time.Now()

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"provider":   providerName,
	}).Info("Starting transcription")

	provider, exists := m.GetProvider(providerName)
	if !exists {
		m.logger.WithFields(logrus.Fields{
			"session_id":       sessionID,
			"provider":         providerName,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return ErrNoProviderAvailable
		}
	}

	err := provider.StreamToText(ctx, audioStream, sessionID)

	elapsed := time.Since(startTime)
	m.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"provider":    provider.Name(),
		"duration_ms": elapsed.Milliseconds(),
		"error":       err != nil,
	}).Info("Transcription completed")

	return err
}
