package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/audio"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/protocol"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/transport"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type sentMessage struct {
	Type    protocol.Type
	Payload json.RawMessage
}

// fakeChannel is an in-process stand-in for the transport channel.
type fakeChannel struct {
	mu       sync.Mutex
	open     bool
	waitErr  error
	handlers map[protocol.Type]func(*protocol.Envelope)
	sent     []sentMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		open:     true,
		handlers: make(map[protocol.Type]func(*protocol.Envelope)),
	}
}

func (c *fakeChannel) WaitReady(ctx context.Context) error { return c.waitErr }

func (c *fakeChannel) Send(t protocol.Type, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrNotConnected
	}
	c.sent = append(c.sent, sentMessage{Type: t, Payload: data})
	return nil
}

func (c *fakeChannel) Handle(t protocol.Type, h func(env *protocol.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// inject delivers a server message synchronously, like the read loop would.
func (c *fakeChannel) inject(t *testing.T, typ protocol.Type, payload interface{}) {
	t.Helper()
	data, err := protocol.Encode(typ, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)

	c.mu.Lock()
	h := c.handlers[typ]
	c.mu.Unlock()
	require.NotNilf(t, h, "no handler for %s", typ)
	h(env)
}

func (c *fakeChannel) sentOf(typ protocol.Type) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentMessage
	for _, m := range c.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeMedia hands out a controllable sample feed and countable handles.
type fakeMedia struct {
	mu       sync.Mutex
	err      error
	samples  chan []float32
	released *releaseCounter
}

type releaseCounter struct {
	mu          sync.Mutex
	disconnects int
	closes      int
	stops       int
}

func (r *releaseCounter) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	return nil
}

func (r *releaseCounter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *releaseCounter) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		samples:  make(chan []float32, 16),
		released: &releaseCounter{},
	}
}

func (m *fakeMedia) Acquire(ctx context.Context) (*audio.Graph, <-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	return &audio.Graph{
		Processor: m.released,
		Source:    m.released,
		Context:   m.released,
		Track:     m.released,
	}, m.samples, nil
}

// fakeSpeech is a controllable on-device recognizer.
type fakeSpeech struct {
	mu        sync.Mutex
	onSegment func(text string, confidence float64, language string, isFinal bool)
	startErr  error
	stops     int
	pauses    int
	resumes   int
}

func (s *fakeSpeech) Start(ctx context.Context, onSegment func(string, float64, string, bool), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.onSegment = onSegment
	return nil
}

func (s *fakeSpeech) Pause() error  { s.mu.Lock(); defer s.mu.Unlock(); s.pauses++; return nil }
func (s *fakeSpeech) Resume() error { s.mu.Lock(); defer s.mu.Unlock(); s.resumes++; return nil }
func (s *fakeSpeech) Stop() error   { s.mu.Lock(); defer s.mu.Unlock(); s.stops++; return nil }

func (s *fakeSpeech) emit(text string, isFinal bool) {
	s.mu.Lock()
	cb := s.onSegment
	s.mu.Unlock()
	if cb != nil {
		cb(text, 0.9, "pl", isFinal)
	}
}

func validParams(method protocol.Method) StartParams {
	return StartParams{Method: method, ClientID: 5, ProductID: 9, UserID: 1}
}

func startedEngine(t *testing.T, method protocol.Method) (*Engine, *fakeChannel, *fakeMedia, *fakeSpeech) {
	t.Helper()
	ch := newFakeChannel()
	media := newFakeMedia()
	speech := &fakeSpeech{}
	e := NewEngine(testLogger(), ch, media, speech)

	require.NoError(t, e.Start(context.Background(), validParams(method)))
	require.Equal(t, StateStarting, e.State())

	ch.inject(t, protocol.TypeSessionStarted,
		protocol.SessionStarted{SessionID: "abc", Method: method})
	require.Equal(t, StateActive, e.State())
	require.Equal(t, "abc", e.SessionID())
	return e, ch, media, speech
}

func TestStartRequiresSelections(t *testing.T) {
	e := NewEngine(testLogger(), newFakeChannel(), newFakeMedia(), &fakeSpeech{})

	err := e.Start(context.Background(), StartParams{Method: protocol.MethodRemote, ProductID: 9})
	assert.ErrorIs(t, err, ErrMissingSelection)
	assert.Equal(t, StateIdle, e.State())

	err = e.Start(context.Background(), StartParams{Method: protocol.MethodRemote, ClientID: 5})
	assert.ErrorIs(t, err, ErrMissingSelection)
	assert.Equal(t, StateIdle, e.State())
}

func TestStartRejectsUnknownMethod(t *testing.T) {
	e := NewEngine(testLogger(), newFakeChannel(), newFakeMedia(), &fakeSpeech{})

	err := e.Start(context.Background(), StartParams{Method: 7, ClientID: 5, ProductID: 9})
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestStartSurfacesMicrophoneDenial(t *testing.T) {
	ch := newFakeChannel()
	media := newFakeMedia()
	media.err = context.DeadlineExceeded // any device error
	e := NewEngine(testLogger(), ch, media, &fakeSpeech{})

	var reported error
	e.OnUserError(func(err error) { reported = err })

	err := e.Start(context.Background(), validParams(protocol.MethodRemote))
	require.Error(t, err)
	assert.Equal(t, StateIdle, e.State(), "machine returns to IDLE after permission failure")
	assert.Error(t, reported)
	assert.Empty(t, ch.sentOf(protocol.TypeStartSession))
}

func TestStartFailsWhenTransportNeverReady(t *testing.T) {
	ch := newFakeChannel()
	ch.waitErr = transport.ErrReadyTimeout
	media := newFakeMedia()
	e := NewEngine(testLogger(), ch, media, &fakeSpeech{})

	err := e.Start(context.Background(), validParams(protocol.MethodRemote))
	assert.ErrorIs(t, err, transport.ErrReadyTimeout)
	assert.Equal(t, StateIdle, e.State(), "session remains un-started")

	// The microphone must not stay acquired after a failed start.
	media.released.mu.Lock()
	defer media.released.mu.Unlock()
	assert.Equal(t, 1, media.released.stops)
}

func TestNoAudioChunkBeforeSessionStarted(t *testing.T) {
	ch := newFakeChannel()
	media := newFakeMedia()
	e := NewEngine(testLogger(), ch, media, &fakeSpeech{})

	require.NoError(t, e.Start(context.Background(), validParams(protocol.MethodRemote)))

	// Samples captured before the acknowledgment must be dropped.
	media.samples <- make([]float32, audio.FrameSize)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ch.sentOf(protocol.TypeAudioChunk))

	ch.inject(t, protocol.TypeSessionStarted,
		protocol.SessionStarted{SessionID: "abc", Method: protocol.MethodRemote})

	media.samples <- make([]float32, audio.FrameSize)
	require.Eventually(t, func() bool {
		return len(ch.sentOf(protocol.TypeAudioChunk)) == 1
	}, time.Second, 10*time.Millisecond)

	var chunk protocol.AudioChunk
	require.NoError(t, json.Unmarshal(ch.sentOf(protocol.TypeAudioChunk)[0].Payload, &chunk))
	assert.Equal(t, "abc", chunk.SessionID)
	assert.NotEmpty(t, chunk.AudioData)
}

func TestStopIsIdempotent(t *testing.T) {
	e, ch, media, _ := startedEngine(t, protocol.MethodRemote)

	e.Stop()
	e.Stop()
	e.Stop()

	assert.Len(t, ch.sentOf(protocol.TypeEndSession), 1, "exactly one END_SESSION message")

	media.released.mu.Lock()
	stops := media.released.stops
	closes := media.released.closes
	media.released.mu.Unlock()
	assert.Equal(t, 1, stops, "exactly one track stop")
	assert.Equal(t, 1, closes, "exactly one context close")
}

func TestPauseResumeControlsTimerAndCapture(t *testing.T) {
	e, _, _, _ := startedEngine(t, protocol.MethodRemote)

	e.Pause()
	assert.Equal(t, StatePaused, e.State())
	assert.False(t, e.timer.Running())

	e.Resume()
	assert.Equal(t, StateActive, e.State())
	assert.True(t, e.timer.Running())

	// Pausing twice or resuming an active session changes nothing.
	e.Resume()
	assert.Equal(t, StateActive, e.State())
}

func TestRemoteTranscriptsFlowIntoAggregator(t *testing.T) {
	e, ch, _, _ := startedEngine(t, protocol.MethodRemote)

	ch.inject(t, protocol.TypePartialTranscript, protocol.PartialTranscript{
		Transcript: protocol.Transcript{Text: "hel", Speaker: "A", SpeakerRole: "salesperson"},
	})
	p := e.Aggregator().Partial()
	require.NotNil(t, p)
	assert.Equal(t, "hel", p.Text)

	ch.inject(t, protocol.TypeFinalTranscript, protocol.FinalTranscript{
		Transcript: protocol.Transcript{Text: "hello", Speaker: "A", SpeakerRole: "salesperson", Confidence: 0.95},
	})

	assert.Nil(t, e.Aggregator().Partial(), "final removes the partial entry")
	log := e.Aggregator().Log()
	require.Len(t, log, 1)
	assert.Equal(t, "hello", log[0].Text)
	assert.Equal(t, "A", log[0].Speaker)
}

func TestLocalMethodAlternatesSpeakers(t *testing.T) {
	e, ch, _, speech := startedEngine(t, protocol.MethodLocal)

	speech.emit("dzień dobry", true)
	speech.emit("dzień dobry, czekam na ofertę", true)
	speech.emit("świetnie, opowiem o produkcie", true)

	log := e.Aggregator().Log()
	require.Len(t, log, 3)
	assert.Equal(t, "A", log[0].Speaker)
	assert.Equal(t, "B", log[1].Speaker)
	assert.Equal(t, "A", log[2].Speaker)

	sent := ch.sentOf(protocol.TypeLocalTranscript)
	require.Len(t, sent, 3)
	var first protocol.LocalTranscript
	require.NoError(t, json.Unmarshal(sent[0].Payload, &first))
	assert.Equal(t, "abc", first.SessionID)
	assert.Equal(t, "salesperson", first.Transcript.SpeakerRole)
	assert.True(t, first.Transcript.IsFinal)
}

func TestLocalPartialsDoNotAdvanceHistory(t *testing.T) {
	e, _, _, speech := startedEngine(t, protocol.MethodLocal)

	speech.emit("dzień", false)
	speech.emit("dzień dobry", false)

	p := e.Aggregator().Partial()
	require.NotNil(t, p)
	assert.Equal(t, "dzień dobry", p.Text)
	assert.Equal(t, "A", p.Speaker)
	assert.Empty(t, e.Aggregator().Log())

	speech.emit("dzień dobry", true)
	speech.emit("czekam", false)
	assert.Equal(t, "B", e.Aggregator().Partial().Speaker, "partial inherits the upcoming speaker")
}

func TestSessionErrorForcesTeardown(t *testing.T) {
	e, ch, media, _ := startedEngine(t, protocol.MethodRemote)

	ch.inject(t, protocol.TypeFinalTranscript, protocol.FinalTranscript{
		Transcript: protocol.Transcript{Text: "hello", Speaker: "A"},
	})

	var reported error
	e.OnUserError(func(err error) { reported = err })

	ch.inject(t, protocol.TypeSessionError, protocol.SessionError{Message: "upstream transcriber failed"})

	assert.Equal(t, StateIdle, e.State())
	assert.Error(t, reported)
	assert.Empty(t, e.Aggregator().Log(), "UI panels cleared after forced end")

	media.released.mu.Lock()
	stops := media.released.stops
	media.released.mu.Unlock()
	assert.Equal(t, 1, stops)

	// A transcript arriving after the forced end must not be written.
	ch.inject(t, protocol.TypeFinalTranscript, protocol.FinalTranscript{
		Transcript: protocol.Transcript{Text: "late", Speaker: "B"},
	})
	assert.Empty(t, e.Aggregator().Log())

	// Stop after the error must not double-release anything.
	e.Stop()
	media.released.mu.Lock()
	defer media.released.mu.Unlock()
	assert.Equal(t, 1, media.released.stops)
	assert.Empty(t, ch.sentOf(protocol.TypeEndSession))
}

func TestEndToEndRemoteScenario(t *testing.T) {
	ch := newFakeChannel()
	media := newFakeMedia()
	e := NewEngine(testLogger(), ch, media, &fakeSpeech{})

	require.NoError(t, e.Start(context.Background(),
		StartParams{Method: protocol.MethodRemote, ClientID: 5, ProductID: 9, UserID: 1}))

	var started protocol.StartSession
	require.Len(t, ch.sentOf(protocol.TypeStartSession), 1)
	require.NoError(t, json.Unmarshal(ch.sentOf(protocol.TypeStartSession)[0].Payload, &started))
	assert.Equal(t, int64(5), started.ClientID)
	assert.Equal(t, int64(9), started.ProductID)

	ch.inject(t, protocol.TypeSessionStarted,
		protocol.SessionStarted{SessionID: "abc", Method: protocol.MethodRemote})

	media.samples <- make([]float32, audio.FrameSize)
	media.samples <- make([]float32, audio.FrameSize)
	require.Eventually(t, func() bool {
		return len(ch.sentOf(protocol.TypeAudioChunk)) == 2
	}, time.Second, 10*time.Millisecond)

	ch.inject(t, protocol.TypeFinalTranscript, protocol.FinalTranscript{
		Transcript: protocol.Transcript{Text: "hello", Speaker: "A"},
	})
	ch.inject(t, protocol.TypeSuggestions, protocol.Suggestions{
		Suggestions: json.RawMessage(`{"sugestie":["ask about budget"]}`),
	})

	require.Len(t, e.Aggregator().Log(), 1)
	views := e.Aggregator().Suggestions()
	require.Len(t, views, 1)
	assert.Equal(t, []string{"ask about budget"}, views[0].Payload.Suggestions)

	e.Stop()
	assert.Equal(t, StateEnding, e.State())

	ch.inject(t, protocol.TypeSessionEnded, protocol.SessionEnded{})

	// Back to the setup form with all panels cleared.
	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.Aggregator().Log())
	assert.Empty(t, e.Aggregator().Suggestions())
	assert.Empty(t, e.SessionID())
	assert.Zero(t, e.Elapsed())
}

func TestSecondStartWhileActiveIsRejected(t *testing.T) {
	e, _, _, _ := startedEngine(t, protocol.MethodRemote)

	err := e.Start(context.Background(), validParams(protocol.MethodRemote))
	assert.ErrorIs(t, err, ErrSessionActive)
}
