// Package session owns the client-side lifecycle of one live coaching
// session. The engine mediates between the capture or recognition strategy,
// the transport channel and the transcript aggregator; all session state
// lives in the engine instance, never in package-level variables.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/audio"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/protocol"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/recognizer"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/speaker"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/suggest"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/transcript"
)

var (
	// ErrMissingSelection means required session fields were not chosen.
	ErrMissingSelection = errors.New("client and product must be selected before starting")

	// ErrSessionActive means a session is already running on this engine.
	ErrSessionActive = errors.New("a session is already active")

	// ErrInvalidMethod means the requested method is not one of the two
	// known strategies.
	ErrInvalidMethod = errors.New("unknown transcription method")
)

// Channel is the slice of the transport the engine needs. Satisfied by
// transport.Channel; tests substitute a fake.
type Channel interface {
	WaitReady(ctx context.Context) error
	Send(t protocol.Type, payload interface{}) error
	Handle(t protocol.Type, h func(env *protocol.Envelope))
	IsOpen() bool
}

// StartParams are the operator's selections for a new session.
type StartParams struct {
	Method    protocol.Method
	ClientID  int64
	ProductID int64
	UserID    int64
	Notes     string
}

// Engine is the session state machine. One engine serves one operator
// connection; at most one session is live on it at a time.
type Engine struct {
	logger  *logrus.Logger
	channel Channel
	media   recognizer.MediaSource
	speech  recognizer.SpeechEngine

	agg   *transcript.Aggregator
	timer *Timer

	mu        sync.Mutex
	state     State
	method    protocol.Method
	sessionID string
	startedAt time.Time
	params    StartParams
	rec       recognizer.Recognizer
	remote    *recognizer.Remote
	attrib    speaker.Engine
	endSent   bool

	// onState and onUserError fire synchronously; they must not call back
	// into the engine.
	onState     func(State)
	onUserError func(error)
}

// NewEngine wires an engine to its transport channel and media providers.
// The media source serves Method A, the speech engine Method B; either may be
// nil if the corresponding method is never used.
func NewEngine(logger *logrus.Logger, channel Channel, media recognizer.MediaSource, speech recognizer.SpeechEngine) *Engine {
	e := &Engine{
		logger:  logger,
		channel: channel,
		media:   media,
		speech:  speech,
		agg:     transcript.NewAggregator(),
		timer:   NewTimer(),
		state:   StateIdle,
	}

	channel.Handle(protocol.TypeSessionStarted, e.handleSessionStarted)
	channel.Handle(protocol.TypePartialTranscript, e.handlePartialTranscript)
	channel.Handle(protocol.TypeFinalTranscript, e.handleFinalTranscript)
	channel.Handle(protocol.TypeSuggestions, e.handleSuggestions)
	channel.Handle(protocol.TypeSessionEnded, e.handleSessionEnded)
	channel.Handle(protocol.TypeSessionError, e.handleSessionError)

	return e
}

// OnStateChange registers a synchronous state observer.
func (e *Engine) OnStateChange(f func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = f
}

// OnUserError registers the callback for user-visible failures.
func (e *Engine) OnUserError(f func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUserError = f
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the coordinator-assigned id, or "" before the start
// acknowledgment.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Method returns the strategy of the current session.
func (e *Engine) Method() protocol.Method {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.method
}

// Elapsed returns the session timer reading.
func (e *Engine) Elapsed() time.Duration {
	return e.timer.Elapsed()
}

// Aggregator exposes the transcript and suggestion state for rendering.
func (e *Engine) Aggregator() *transcript.Aggregator {
	return e.agg
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	e.logger.WithFields(logrus.Fields{
		"from": e.state.String(),
		"to":   s.String(),
	}).Debug("Session state transition")
	e.state = s
	if e.onState != nil {
		e.onState(s)
	}
}

func (e *Engine) reportError(err error) {
	e.mu.Lock()
	cb := e.onUserError
	e.mu.Unlock()
	e.logger.WithError(err).Warn("Session error reported to operator")
	if cb != nil {
		cb(err)
	}
}

// Start validates the operator's selections, acquires media for the chosen
// method and asks the coordinator to create the session. The transition to
// ACTIVE happens asynchronously when SESSION_STARTED arrives.
func (e *Engine) Start(ctx context.Context, params StartParams) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle, StateError, StateEnded:
	default:
		e.mu.Unlock()
		return ErrSessionActive
	}
	if params.ClientID == 0 || params.ProductID == 0 {
		e.mu.Unlock()
		return ErrMissingSelection
	}
	if !params.Method.Valid() {
		e.mu.Unlock()
		return ErrInvalidMethod
	}

	e.params = params
	e.method = params.Method
	e.endSent = false
	e.setStateLocked(StateAwaitingMedia)

	switch params.Method {
	case protocol.MethodRemote:
		pipeline := audio.NewPipeline(e.logger, e.sendChunk, e.channel.IsOpen, e.SessionID)
		remote := recognizer.NewRemote(e.logger, e.media, pipeline)
		e.rec = remote
		e.remote = remote
		e.attrib = speaker.NewVerbatim()
	case protocol.MethodLocal:
		e.rec = recognizer.NewLocal(e.logger, e.speech)
		e.remote = nil
		e.attrib = speaker.NewAlternator()
	}
	rec := e.rec
	rec.OnResult(e.handleRecognition)
	rec.OnError(e.handleCaptureError)
	e.mu.Unlock()

	if err := rec.Start(ctx); err != nil {
		e.failStart(fmt.Errorf("media initialization failed: %w", err))
		return err
	}

	e.mu.Lock()
	e.setStateLocked(StateStarting)
	e.mu.Unlock()

	if err := e.channel.WaitReady(ctx); err != nil {
		rec.Stop()
		e.failStart(fmt.Errorf("session start failed: %w", err))
		return err
	}

	if err := e.channel.Send(protocol.TypeStartSession, protocol.StartSession{
		Method:    params.Method,
		ClientID:  params.ClientID,
		ProductID: params.ProductID,
		Notes:     params.Notes,
		UserID:    params.UserID,
	}); err != nil {
		rec.Stop()
		e.failStart(fmt.Errorf("session start failed: %w", err))
		return err
	}

	return nil
}

// failStart surfaces a start failure and returns the machine to IDLE so the
// operator can try again. All handles are already released by the caller.
func (e *Engine) failStart(err error) {
	e.mu.Lock()
	e.setStateLocked(StateError)
	e.mu.Unlock()

	e.reportError(err)

	e.mu.Lock()
	e.rec = nil
	e.remote = nil
	e.setStateLocked(StateIdle)
	e.mu.Unlock()
}

// Pause suspends capture and the timer without releasing any handles.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StatePaused)
	rec := e.rec
	e.mu.Unlock()

	e.timer.Pause()
	if rec != nil {
		rec.Pause()
	}
}

// Resume reactivates a paused session.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StateActive)
	rec := e.rec
	e.mu.Unlock()

	e.timer.Resume()
	if rec != nil {
		rec.Resume()
	}
}

// Stop requests graceful termination. Idempotent: a second call, or a call
// after the coordinator already tore the session down, does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	switch e.state {
	case StateStarting, StateActive, StatePaused:
	default:
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StateEnding)
	rec := e.rec
	sessionID := e.sessionID
	sendEnd := !e.endSent && sessionID != ""
	e.endSent = true
	e.mu.Unlock()

	e.timer.Pause()
	if rec != nil {
		rec.Stop()
	}
	if sendEnd {
		if err := e.channel.Send(protocol.TypeEndSession, protocol.EndSession{SessionID: sessionID}); err != nil {
			e.logger.WithError(err).Warn("Failed to send end-session message")
		}
	} else if sessionID == "" {
		// Stopped before the coordinator ever acknowledged the session, so
		// no confirmation will arrive; reset immediately.
		e.resetToIdle()
	}
}

// sendChunk is the capture pipeline sink for Method A.
func (e *Engine) sendChunk(sessionID, audioData string) {
	if err := e.channel.Send(protocol.TypeAudioChunk, protocol.AudioChunk{
		SessionID: sessionID,
		AudioData: audioData,
	}); err != nil {
		e.logger.WithError(err).Debug("Audio chunk dropped")
	}
}

// handleRecognition is the single result path for both strategies.
func (e *Engine) handleRecognition(res recognizer.Result) {
	e.mu.Lock()
	state := e.state
	attrib := e.attrib
	method := e.method
	sessionID := e.sessionID
	e.mu.Unlock()

	if state != StateActive || attrib == nil {
		return
	}

	now := time.Now()
	attr := attrib.Attribute(res.Text, speaker.Attribution{
		Speaker: res.Speaker,
		Role:    speaker.Role(res.SpeakerRole),
	}, res.IsFinal, now)

	entry := transcript.Entry{
		Speaker:    attr.Speaker,
		Role:       attr.Role,
		Text:       res.Text,
		Confidence: res.Confidence,
		Timestamp:  now,
	}
	if res.IsFinal {
		e.agg.Finalize(entry)
	} else {
		e.agg.SetPartial(entry)
	}

	// Method B forwards its recognition to the coordinator for suggestion
	// generation; never before the session is acknowledged.
	if method == protocol.MethodLocal && sessionID != "" {
		if err := e.channel.Send(protocol.TypeLocalTranscript, protocol.LocalTranscript{
			SessionID: sessionID,
			Transcript: protocol.Transcript{
				Text:        res.Text,
				IsFinal:     res.IsFinal,
				Confidence:  res.Confidence,
				Language:    res.Language,
				Speaker:     attr.Speaker,
				SpeakerRole: string(attr.Role),
				Timestamp:   now,
			},
		}); err != nil {
			e.logger.WithError(err).Debug("Local transcript dropped")
		}
	}
}

// handleCaptureError reports a capture failure and runs the normal teardown
// path; a revoked device must not crash the state machine.
func (e *Engine) handleCaptureError(err error) {
	e.reportError(fmt.Errorf("capture error: %w", err))
	e.Stop()
}

func (e *Engine) handleSessionStarted(env *protocol.Envelope) {
	var msg protocol.SessionStarted
	if err := protocol.DecodePayload(env, &msg); err != nil {
		e.logger.WithError(err).Warn("Discarding malformed session-started message")
		return
	}

	e.mu.Lock()
	if e.state != StateStarting {
		e.mu.Unlock()
		e.logger.WithField("session_id", msg.SessionID).Warn("Unexpected session-started message")
		return
	}
	e.sessionID = msg.SessionID
	e.startedAt = time.Now()
	e.setStateLocked(StateActive)
	rec := e.rec
	e.mu.Unlock()

	e.timer.Start()
	if rec != nil {
		rec.Resume()
	}

	e.logger.WithFields(logrus.Fields{
		"session_id": msg.SessionID,
		"method":     msg.Method.String(),
	}).Info("Session started")
}

func (e *Engine) handlePartialTranscript(env *protocol.Envelope) {
	var msg protocol.PartialTranscript
	if err := protocol.DecodePayload(env, &msg); err != nil {
		e.logger.WithError(err).Warn("Discarding malformed partial transcript")
		return
	}
	e.deliverRemote(msg.Transcript, false)
}

func (e *Engine) handleFinalTranscript(env *protocol.Envelope) {
	var msg protocol.FinalTranscript
	if err := protocol.DecodePayload(env, &msg); err != nil {
		e.logger.WithError(err).Warn("Discarding malformed final transcript")
		return
	}
	e.deliverRemote(msg.Transcript, true)
}

// deliverRemote routes a coordinator transcript into the Method A strategy.
func (e *Engine) deliverRemote(t protocol.Transcript, isFinal bool) {
	e.mu.Lock()
	remote := e.remote
	e.mu.Unlock()
	if remote == nil {
		return
	}
	remote.Deliver(recognizer.Result{
		Text:        t.Text,
		IsFinal:     isFinal,
		Confidence:  t.Confidence,
		Language:    t.Language,
		Speaker:     t.Speaker,
		SpeakerRole: t.SpeakerRole,
	})
}

func (e *Engine) handleSuggestions(env *protocol.Envelope) {
	var msg protocol.Suggestions
	if err := protocol.DecodePayload(env, &msg); err != nil {
		e.logger.WithError(err).Warn("Discarding malformed suggestions message")
		return
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateActive && state != StatePaused {
		return
	}

	e.agg.AddSuggestions(suggest.Parse(msg.Suggestions), time.Now())
}

func (e *Engine) handleSessionEnded(_ *protocol.Envelope) {
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateEnded {
		e.mu.Unlock()
		return
	}
	rec := e.rec
	e.endSent = true
	e.setStateLocked(StateEnded)
	e.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	e.resetToIdle()

	e.logger.Info("Session ended")
}

// handleSessionError runs the forced teardown path: immediate end, no
// further transcript writes.
func (e *Engine) handleSessionError(env *protocol.Envelope) {
	var msg protocol.SessionError
	if err := protocol.DecodePayload(env, &msg); err != nil {
		e.logger.WithError(err).Warn("Discarding malformed session-error message")
		return
	}

	e.mu.Lock()
	if e.state == StateIdle || e.state == StateEnded {
		e.mu.Unlock()
		return
	}
	rec := e.rec
	e.endSent = true
	e.setStateLocked(StateEnded)
	e.mu.Unlock()

	e.timer.Pause()
	if rec != nil {
		rec.Stop()
	}
	e.reportError(fmt.Errorf("session error: %s", msg.Message))
	e.resetToIdle()
}

// resetToIdle clears all per-session state so the UI shows the setup form.
func (e *Engine) resetToIdle() {
	e.agg.Reset()
	e.timer.Reset()

	e.mu.Lock()
	if e.attrib != nil {
		e.attrib.Reset()
	}
	e.sessionID = ""
	e.rec = nil
	e.remote = nil
	e.attrib = nil
	e.endSent = false
	e.setStateLocked(StateIdle)
	e.mu.Unlock()
}
