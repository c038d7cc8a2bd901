package recognizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/audio"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type stubMedia struct {
	samples chan []float32
	err     error
	stops   int
	mu      sync.Mutex
}

func (m *stubMedia) Acquire(ctx context.Context) (*audio.Graph, <-chan []float32, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return &audio.Graph{Track: m}, m.samples, nil
}

func (m *stubMedia) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func TestRemotePumpsSamplesIntoPipeline(t *testing.T) {
	var (
		mu     sync.Mutex
		chunks []string
	)
	pipeline := audio.NewPipeline(testLogger(),
		func(sessionID, data string) {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, data)
		},
		func() bool { return true },
		func() string { return "sess" })

	media := &stubMedia{samples: make(chan []float32, 4)}
	r := NewRemote(testLogger(), media, pipeline)

	require.NoError(t, r.Start(context.Background()))
	r.Resume()

	media.samples <- make([]float32, audio.FrameSize)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	}, time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop() // idempotent

	media.mu.Lock()
	defer media.mu.Unlock()
	assert.Equal(t, 1, media.stops)
}

func TestRemoteReportsDeadCaptureStream(t *testing.T) {
	pipeline := audio.NewPipeline(testLogger(), func(string, string) {},
		func() bool { return true }, func() string { return "sess" })
	media := &stubMedia{samples: make(chan []float32)}
	r := NewRemote(testLogger(), media, pipeline)

	errs := make(chan error, 1)
	r.OnError(func(err error) { errs <- err })

	require.NoError(t, r.Start(context.Background()))
	close(media.samples) // device revoked mid-session

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("capture loss was not reported")
	}
}

func TestRemoteDeliverRespectsStop(t *testing.T) {
	pipeline := audio.NewPipeline(testLogger(), func(string, string) {},
		func() bool { return true }, func() string { return "sess" })
	media := &stubMedia{samples: make(chan []float32, 1)}
	r := NewRemote(testLogger(), media, pipeline)

	var got []Result
	r.OnResult(func(res Result) { got = append(got, res) })

	require.NoError(t, r.Start(context.Background()))
	r.Deliver(Result{Text: "hello", IsFinal: true})
	require.Len(t, got, 1)

	r.Stop()
	r.Deliver(Result{Text: "late", IsFinal: true})
	assert.Len(t, got, 1, "no results after stop")
}

type stubEngine struct {
	mu        sync.Mutex
	onSegment func(string, float64, string, bool)
	stops     int
}

func (s *stubEngine) Start(ctx context.Context, onSegment func(string, float64, string, bool), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSegment = onSegment
	return nil
}

func (s *stubEngine) Pause() error  { return nil }
func (s *stubEngine) Resume() error { return nil }
func (s *stubEngine) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func TestLocalDropsSegmentsWhilePaused(t *testing.T) {
	engine := &stubEngine{}
	l := NewLocal(testLogger(), engine)

	var got []Result
	l.OnResult(func(res Result) { got = append(got, res) })

	require.NoError(t, l.Start(context.Background()))

	// Paused right after start: nothing flows until Resume.
	engine.onSegment("too early", 0.9, "pl", true)
	assert.Empty(t, got)

	l.Resume()
	engine.onSegment("dzień dobry", 0.9, "pl", true)
	require.Len(t, got, 1)
	assert.Equal(t, "dzień dobry", got[0].Text)
	assert.True(t, got[0].IsFinal)

	l.Pause()
	engine.onSegment("paused away", 0.9, "pl", false)
	assert.Len(t, got, 1)
}

func TestLocalStopIsIdempotent(t *testing.T) {
	engine := &stubEngine{}
	l := NewLocal(testLogger(), engine)
	require.NoError(t, l.Start(context.Background()))

	l.Stop()
	l.Stop()

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 1, engine.stops)
}
