package stt

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// MockSegment is one scripted utterance emitted by the mock provider.
type MockSegment struct {
	Text       string
	Speaker    string
	Confidence float64
}

// MockProvider is a scriptable provider for tests and offline
// development. It consumes the audio stream and emits one scripted
// segment per consumed block, first as an interim result and then as
// a final one.
type MockProvider struct {
	logger *logrus.Logger

	mu       sync.Mutex
	callback TranscriptionCallback
	script   []MockSegment
	next     int

	// BytesPerSegment is how much audio advances the script by one
	// segment. Zero means one segment per read.
	BytesPerSegment int
}

// NewMockProvider creates a mock provider with the given script.
func NewMockProvider(logger *logrus.Logger, script []MockSegment) *MockProvider {
	return &MockProvider{
		logger: logger,
		script: script,
	}
}

// Name returns the provider name.
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize is a no-op for the mock provider.
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock speech-to-text provider initialized")
	return nil
}

// SetCallback sets the callback function for transcription results.
func (p *MockProvider) SetCallback(callback TranscriptionCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = callback
}

// StreamToText consumes the audio stream, emitting scripted segments.
func (p *MockProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	buffer := make([]byte, 4096)
	consumed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := audioStream.Read(buffer)
		consumed += n

		if n > 0 && (p.BytesPerSegment == 0 || consumed >= p.BytesPerSegment) {
			consumed = 0
			p.emitNext(sessionID)
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *MockProvider) emitNext(sessionID string) {
	p.mu.Lock()
	if p.next >= len(p.script) {
		p.mu.Unlock()
		return
	}
	segment := p.script[p.next]
	p.next++
	cb := p.callback
	p.mu.Unlock()

	if cb == nil {
		return
	}

	confidence := segment.Confidence
	if confidence == 0 {
		confidence = 0.95
	}
	metadata := map[string]interface{}{
		"provider":   p.Name(),
		"confidence": confidence,
	}
	if segment.Speaker != "" {
		metadata["speaker"] = segment.Speaker
	}

	cb(sessionID, segment.Text, false, metadata)
	cb(sessionID, segment.Text, true, metadata)
}
