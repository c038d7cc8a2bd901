package recognizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Local is the Method B strategy: an on-device recognizer produces partial
// and finalized segments directly, no raw audio ever leaves the client.
type Local struct {
	logger *logrus.Logger
	engine SpeechEngine

	mu       sync.Mutex
	started  bool
	stopped  bool
	paused   bool
	onResult func(Result)
	onError  func(error)
}

// NewLocal wraps an on-device speech engine in the strategy interface.
func NewLocal(logger *logrus.Logger, engine SpeechEngine) *Local {
	return &Local{
		logger: logger,
		engine: engine,
	}
}

// Start initializes the on-device recognizer.
func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("local recognizer already started")
	}

	err := l.engine.Start(ctx, l.handleSegment, l.handleError)
	if err != nil {
		return fmt.Errorf("local recognizer failed to initialize: %w", err)
	}
	l.started = true
	l.paused = true // nothing flows until the session goes active
	return nil
}

func (l *Local) handleSegment(text string, confidence float64, language string, isFinal bool) {
	l.mu.Lock()
	onResult := l.onResult
	drop := l.stopped || l.paused
	l.mu.Unlock()
	if drop || onResult == nil {
		return
	}
	onResult(Result{
		Text:       text,
		Confidence: confidence,
		Language:   language,
		IsFinal:    isFinal,
	})
}

func (l *Local) handleError(err error) {
	l.mu.Lock()
	onError := l.onError
	stopped := l.stopped
	l.mu.Unlock()
	if stopped || onError == nil {
		return
	}
	onError(err)
}

// Pause suspends the recognizer without releasing it.
func (l *Local) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	if err := l.engine.Pause(); err != nil {
		l.logger.WithError(err).Warn("Failed to pause local recognizer")
	}
}

// Resume reactivates the recognizer.
func (l *Local) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	if err := l.engine.Resume(); err != nil {
		l.logger.WithError(err).Warn("Failed to resume local recognizer")
	}
}

// Stop shuts the recognizer down. Safe to call more than once.
func (l *Local) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	if err := l.engine.Stop(); err != nil {
		l.logger.WithError(err).Warn("Failed to stop local recognizer")
	}
}

// OnResult registers the result callback.
func (l *Local) OnResult(f func(Result)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onResult = f
}

// OnError registers the error callback.
func (l *Local) OnError(f func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = f
}
