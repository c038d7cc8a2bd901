// Package audio turns a live microphone stream into fixed-size, fixed-format
// PCM frames suitable for the remote transcriber. The pipeline owns the audio
// graph handles for exactly one session and must release them, in order,
// before the session is considered ended.
package audio

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrReleased means the pipeline's handles were already torn down.
var ErrReleased = errors.New("audio pipeline already released")

// Node is one opaque handle in the live audio graph (processor or source).
type Node interface {
	Disconnect() error
}

// GraphContext is the opaque audio context handle owning the graph.
type GraphContext interface {
	Close() error
}

// Track is the microphone track handle.
type Track interface {
	Stop() error
}

// Graph bundles the handles acquired when microphone access is granted.
type Graph struct {
	Processor Node
	Source    Node
	Context   GraphContext
	Track     Track
}

// ChunkSink receives one encoded audio chunk attributed to a session.
type ChunkSink func(sessionID, audioData string)

// Pipeline frames and encodes captured samples. Chunks are emitted only while
// recording, with the transport open and a coordinator-assigned session id;
// a chunk failing any guard is dropped, not buffered. Live audio that cannot
// be attributed to a session is worthless a moment later.
type Pipeline struct {
	logger *logrus.Logger

	sink          ChunkSink
	transportOpen func() bool
	sessionID     func() string

	mu        sync.Mutex
	graph     *Graph
	recording bool
	released  bool
	pending   []float32
}

// NewPipeline creates a pipeline with the given emit guards.
func NewPipeline(logger *logrus.Logger, sink ChunkSink, transportOpen func() bool, sessionID func() string) *Pipeline {
	return &Pipeline{
		logger:        logger,
		sink:          sink,
		transportOpen: transportOpen,
		sessionID:     sessionID,
	}
}

// Attach hands the pipeline exclusive ownership of a live audio graph.
// Attaching to a released pipeline is an error; a new session needs a new
// pipeline.
func (p *Pipeline) Attach(graph *Graph) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrReleased
	}
	p.graph = graph
	return nil
}

// SetRecording toggles the recording guard. Pausing a session flips this off
// without releasing any handles.
func (p *Pipeline) SetRecording(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = on
}

// Recording reports the current recording flag.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// Push accepts captured samples from the processor callback, slices them into
// FrameSize frames and emits each frame that passes the guards. Calls after
// Teardown are ignored; a dangling callback must never touch freed handles.
func (p *Pipeline) Push(samples []float32) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, samples...)

	var frames [][]float32
	for len(p.pending) >= FrameSize {
		frame := make([]float32, FrameSize)
		copy(frame, p.pending[:FrameSize])
		p.pending = p.pending[FrameSize:]
		frames = append(frames, frame)
	}
	recording := p.recording
	p.mu.Unlock()

	for _, frame := range frames {
		p.emit(frame, recording)
	}
}

func (p *Pipeline) emit(frame []float32, recording bool) {
	if !recording {
		return
	}
	if !p.transportOpen() {
		return
	}
	id := p.sessionID()
	if id == "" {
		// No acknowledged session yet; the chunk cannot be attributed.
		return
	}
	p.sink(id, EncodeChunk(frame))
}

// Teardown releases the audio graph: processor and source are disconnected
// first, then the context is closed, and the track stopped last. This order
// keeps dangling callbacks from firing into a half-dead graph. Teardown is
// idempotent; a second call is a no-op.
func (p *Pipeline) Teardown() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.recording = false
	graph := p.graph
	p.graph = nil
	p.pending = nil
	p.mu.Unlock()

	if graph == nil {
		return
	}

	if graph.Processor != nil {
		if err := graph.Processor.Disconnect(); err != nil {
			p.logger.WithError(err).Warn("Failed to disconnect audio processor")
		}
	}
	if graph.Source != nil {
		if err := graph.Source.Disconnect(); err != nil {
			p.logger.WithError(err).Warn("Failed to disconnect audio source")
		}
	}
	if graph.Context != nil {
		if err := graph.Context.Close(); err != nil {
			p.logger.WithError(err).Warn("Failed to close audio context")
		}
	}
	if graph.Track != nil {
		if err := graph.Track.Stop(); err != nil {
			p.logger.WithError(err).Warn("Failed to stop microphone track")
		}
	}
}

// Released reports whether the pipeline's handles have been torn down.
func (p *Pipeline) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}
