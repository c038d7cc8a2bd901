package recognizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/audio"
)

// Remote is the Method A strategy: it owns the capture pipeline that streams
// PCM frames to the coordinator, while recognition results flow back over
// the transport. The session engine feeds those results in via Deliver so
// both strategies share one result path.
type Remote struct {
	logger   *logrus.Logger
	media    MediaSource
	pipeline *audio.Pipeline

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	onResult func(Result)
	onError  func(error)
}

// NewRemote creates the remote streaming strategy around a capture pipeline.
func NewRemote(logger *logrus.Logger, media MediaSource, pipeline *audio.Pipeline) *Remote {
	return &Remote{
		logger:   logger,
		media:    media,
		pipeline: pipeline,
	}
}

// Start requests microphone access and begins pumping captured samples into
// the pipeline. Recording stays off until Resume; no chunk leaves before the
// session is acknowledged anyway, the pipeline guards see to that.
func (r *Remote) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("remote recognizer already started")
	}

	graph, samples, err := r.media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("microphone access failed: %w", err)
	}
	if err := r.pipeline.Attach(graph); err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true

	go r.pump(pumpCtx, samples)
	return nil
}

func (r *Remote) pump(ctx context.Context, samples <-chan []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-samples:
			if !ok {
				// Device went away mid-session. Report and let the session
				// run its normal teardown path.
				r.mu.Lock()
				onError := r.onError
				stopped := r.stopped
				r.mu.Unlock()
				if !stopped && onError != nil {
					onError(fmt.Errorf("audio capture stream ended unexpectedly"))
				}
				return
			}
			r.pipeline.Push(buf)
		}
	}
}

// Pause suspends chunk emission without touching the audio graph.
func (r *Remote) Pause() {
	r.pipeline.SetRecording(false)
}

// Resume reactivates chunk emission.
func (r *Remote) Resume() {
	r.pipeline.SetRecording(true)
}

// Stop cancels the sample pump and releases the audio graph. Safe to call
// more than once.
func (r *Remote) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.pipeline.Teardown()
}

// OnResult registers the result callback.
func (r *Remote) OnResult(f func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = f
}

// OnError registers the error callback.
func (r *Remote) OnError(f func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = f
}

// Deliver feeds a transcription result received over the transport into the
// strategy's result path.
func (r *Remote) Deliver(res Result) {
	r.mu.Lock()
	onResult := r.onResult
	stopped := r.stopped
	r.mu.Unlock()
	if stopped || onResult == nil {
		return
	}
	onResult(res)
}
