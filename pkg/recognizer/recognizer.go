// Package recognizer defines the per-method recognition strategy used by a
// session. Each method gets one concrete implementation behind a shared
// start/stop/callback interface, selected at session start; nothing hangs off
// a process-wide event target.
package recognizer

import (
	"context"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/audio"
)

// Result is one recognition event, partial or final.
type Result struct {
	Text        string
	IsFinal     bool
	Confidence  float64
	Language    string
	Speaker     string
	SpeakerRole string
}

// Recognizer is the session-scoped recognition strategy.
type Recognizer interface {
	// Start acquires whatever the strategy needs (microphone, on-device
	// recognizer) and begins producing events once resumed.
	Start(ctx context.Context) error

	// Pause suspends recognition without releasing any handles.
	Pause()

	// Resume reactivates recognition after Start or Pause.
	Resume()

	// Stop tears everything down. Idempotent.
	Stop()

	// OnResult registers the recognition event callback.
	OnResult(func(Result))

	// OnError registers the recognition error callback.
	OnError(func(error))
}

// MediaSource acquires microphone access for the remote strategy. Acquire
// returns the opaque audio graph handles and a feed of captured sample
// buffers; the feed closes when the context is canceled or the device goes
// away.
type MediaSource interface {
	Acquire(ctx context.Context) (*audio.Graph, <-chan []float32, error)
}

// SpeechEngine is the on-device recognizer wrapped by the local strategy.
// It emits incremental and finalized text segments and provides no
// diarization of its own.
type SpeechEngine interface {
	Start(ctx context.Context, onSegment func(text string, confidence float64, language string, isFinal bool), onError func(error)) error
	Pause() error
	Resume() error
	Stop() error
}
