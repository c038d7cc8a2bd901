// Package coordinator implements the server side of the coaching
// protocol: it accepts operator WebSocket connections, owns the session
// registry, streams remote audio into the transcription providers and
// pushes transcripts and coaching suggestions back to the operator.
package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/audio"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/messaging"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/protocol"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/stt"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/suggest"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The operator app connects from a desktop shell, not a browser origin.
		return true
	},
}

// Server coordinates coaching sessions for connected operator clients.
type Server struct {
	logger    *logrus.Logger
	cfg       *config.Config
	providers *stt.ProviderManager
	generator suggest.Generator
	publisher *messaging.Publisher

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// NewServer creates a session coordinator. generator and publisher may
// be nil, which disables suggestions and transcript delivery.
func NewServer(logger *logrus.Logger, cfg *config.Config, providers *stt.ProviderManager, generator suggest.Generator, publisher *messaging.Publisher) *Server {
	return &Server{
		logger:    logger,
		cfg:       cfg,
		providers: providers,
		generator: generator,
		publisher: publisher,
		sessions:  make(map[string]*liveSession),
	}
}

func (s *Server) lookup(sessionID string) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// hasLiveSession reports whether the connection already owns a session.
func (s *Server) hasLiveSession(conn *wsConn) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.conn == conn {
			return true
		}
	}
	return false
}

// HandleWS upgrades the connection and serves the session protocol until
// the client goes away. Sessions opened on this connection are torn down
// when it closes.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}
	conn := &wsConn{logger: s.logger, conn: raw}

	s.logger.WithField("remote", raw.RemoteAddr().String()).Info("Operator connected")
	defer func() {
		s.dropConnection(conn)
		raw.Close()
		s.logger.WithField("remote", raw.RemoteAddr().String()).Info("Operator disconnected")
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Warn("Operator connection lost")
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.WithError(err).Warn("Dropping malformed frame")
			continue
		}

		switch env.Type {
		case protocol.TypeStartSession:
			s.handleStartSession(conn, env)
		case protocol.TypeAudioChunk:
			s.handleAudioChunk(env)
		case protocol.TypeLocalTranscript:
			s.handleLocalTranscript(env)
		case protocol.TypeEndSession:
			s.handleEndSession(env)
		default:
			// Unknown tags are ignored so clients can be upgraded first.
			s.logger.WithField("type", env.Type).Debug("Ignoring unknown message type")
		}
	}
}

func (s *Server) handleStartSession(conn *wsConn, env *protocol.Envelope) {
	var req protocol.StartSession
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed START_SESSION")
		return
	}
	if !req.Method.Valid() {
		conn.send(protocol.TypeSessionError, protocol.SessionError{Message: "unsupported recognition method"})
		return
	}
	if s.hasLiveSession(conn) {
		// One active session per operator connection.
		conn.send(protocol.TypeSessionError, protocol.SessionError{Message: "a session is already active on this connection"})
		return
	}

	sess := &liveSession{
		id:        uuid.New().String(),
		method:    req.Method,
		params:    req,
		conn:      conn,
		startedAt: time.Now(),
	}

	if req.Method == protocol.MethodRemote {
		if err := s.startRemoteStream(sess); err != nil {
			s.logger.WithError(err).WithField("session_id", sess.id).Error("Failed to start transcription stream")
			conn.send(protocol.TypeSessionError, protocol.SessionError{Message: "transcription service unavailable"})
			return
		}
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.IncCounterVec(metrics.SessionsStarted, req.Method.String())
	metrics.AddGauge(metrics.SessionsActive, 1)

	s.logger.WithFields(logrus.Fields{
		"session_id": sess.id,
		"method":     req.Method.String(),
		"client_id":  req.ClientID,
		"product_id": req.ProductID,
	}).Info("Session started")

	conn.send(protocol.TypeSessionStarted, protocol.SessionStarted{
		SessionID: sess.id,
		Method:    req.Method,
	})
}

// startRemoteStream wires a PCM pipe into the transcription provider and
// begins streaming in the background.
func (s *Server) startRemoteStream(sess *liveSession) error {
	if s.providers == nil {
		return stt.ErrNoProviderAvailable
	}
	provider, ok := s.providers.GetDefaultProvider()
	if !ok {
		return stt.ErrNoProviderAvailable
	}
	if streaming, ok := provider.(stt.StreamingProvider); ok {
		streaming.SetCallback(s.handleTranscription)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	sess.audio = pw
	sess.cancel = cancel

	go func() {
		err := provider.StreamToText(ctx, pr, sess.id)
		if err != nil && ctx.Err() == nil {
			s.logger.WithError(err).WithField("session_id", sess.id).Error("Transcription stream failed")
			s.failSession(sess.id, "transcription stream failed")
		}
	}()
	return nil
}

func (s *Server) handleAudioChunk(env *protocol.Envelope) {
	var chunk protocol.AudioChunk
	if err := protocol.DecodePayload(env, &chunk); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed AUDIO_CHUNK")
		return
	}

	sess, ok := s.lookup(chunk.SessionID)
	if !ok || sess.audio == nil {
		metrics.IncCounter(metrics.AudioChunksDropped)
		s.logger.WithField("session_id", chunk.SessionID).Debug("Ignoring audio for unknown session")
		return
	}

	pcm, err := audio.DecodeChunk(chunk.AudioData)
	if err != nil {
		metrics.IncCounter(metrics.AudioChunksDropped)
		s.logger.WithError(err).WithField("session_id", chunk.SessionID).Warn("Dropping undecodable audio chunk")
		return
	}

	metrics.IncCounter(metrics.AudioChunksReceived)
	metrics.AddCounter(metrics.AudioBytesReceived, float64(len(pcm)))

	if _, err := sess.audio.Write(pcm); err != nil {
		metrics.IncCounter(metrics.AudioChunksDropped)
		s.logger.WithError(err).WithField("session_id", chunk.SessionID).Debug("Audio pipe closed, dropping chunk")
	}
}

func (s *Server) handleLocalTranscript(env *protocol.Envelope) {
	var msg protocol.LocalTranscript
	if err := protocol.DecodePayload(env, &msg); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed LOCAL_TRANSCRIPT")
		return
	}

	sess, ok := s.lookup(msg.SessionID)
	if !ok {
		s.logger.WithField("session_id", msg.SessionID).Debug("Ignoring transcript for unknown session")
		return
	}

	t := msg.Transcript
	if !t.IsFinal || t.Text == "" {
		return
	}

	at := t.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	sess.appendFinal(t.Speaker, t.SpeakerRole, t.Text, at)
	s.maybeSuggest(sess)
}

// handleTranscription receives provider results and relays them to the
// session owner as partial or final transcript messages.
func (s *Server) handleTranscription(sessionID, transcription string, isFinal bool, metadata map[string]interface{}) {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return
	}

	t := protocol.Transcript{
		Text:      transcription,
		IsFinal:   isFinal,
		Timestamp: time.Now(),
	}
	if v, ok := metadata["confidence"].(float64); ok {
		t.Confidence = v
	}
	if v, ok := metadata["language"].(string); ok {
		t.Language = v
	}
	if v, ok := metadata["speaker"].(string); ok {
		t.Speaker = speakerLabel(v)
		t.SpeakerRole = roleForSpeaker(t.Speaker)
	}

	if !isFinal {
		sess.conn.send(protocol.TypePartialTranscript, protocol.PartialTranscript{Transcript: t})
		return
	}

	sess.appendFinal(t.Speaker, t.SpeakerRole, t.Text, t.Timestamp)
	sess.conn.send(protocol.TypeFinalTranscript, protocol.FinalTranscript{Transcript: t})
	s.maybeSuggest(sess)
}

// maybeSuggest kicks off one completion round trip per session at a
// time. Finals arriving while a request is in flight fold into the next
// one via the shared transcript.
func (s *Server) maybeSuggest(sess *liveSession) {
	if s.generator == nil {
		return
	}
	if !sess.trySuggest() {
		return
	}

	go func() {
		defer sess.releaseSuggest()

		timeout := s.cfg.Suggest.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		entries := sess.snapshot()
		convo := make([]suggest.ConversationEntry, len(entries))
		for i, e := range entries {
			convo[i] = suggest.ConversationEntry{Speaker: e.Speaker, Role: e.Role, Text: e.Text}
		}

		payload, err := s.generator.Generate(ctx, convo, sess.params.Notes)
		if err != nil {
			s.logger.WithError(err).WithField("session_id", sess.id).Warn("Suggestion generation failed")
			return
		}
		var raw json.RawMessage
		switch {
		case !payload.Empty():
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.WithError(err).WithField("session_id", sess.id).Error("Failed to marshal suggestion payload")
				return
			}
			raw = data
		case len(payload.Raw) > 0:
			// Unrecognized shape: forward it untouched.
			raw = payload.Raw
		default:
			return
		}

		msg := protocol.Suggestions{Suggestions: raw}
		if payload.SpeakerAnalysis != "" {
			if info, err := json.Marshal(payload.SpeakerAnalysis); err == nil {
				msg.SpeakerInfo = info
			}
		}
		sess.conn.send(protocol.TypeSuggestions, msg)
	}()
}

func (s *Server) handleEndSession(env *protocol.Envelope) {
	var req protocol.EndSession
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed END_SESSION")
		return
	}

	sess, ok := s.lookup(req.SessionID)
	if !ok {
		s.logger.WithField("session_id", req.SessionID).Debug("Ignoring END_SESSION for unknown session")
		return
	}

	s.endSession(sess, "client_request")
	sess.conn.send(protocol.TypeSessionEnded, protocol.SessionEnded{})
}

// failSession pushes a fatal error to the operator and tears the session
// down server-side.
func (s *Server) failSession(sessionID, message string) {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return
	}
	sess.conn.send(protocol.TypeSessionError, protocol.SessionError{Message: message})
	s.endSession(sess, "error")
}

// endSession finalizes a session exactly once: it stops the provider
// stream, publishes the transcript and updates the registry.
func (s *Server) endSession(sess *liveSession, reason string) {
	if !sess.markEnded() {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	if sess.audio != nil {
		sess.audio.Close()
	}
	if sess.cancel != nil {
		sess.cancel()
	}

	duration := time.Since(sess.startedAt)
	metrics.IncCounterVec(metrics.SessionsEnded, reason)
	metrics.AddGauge(metrics.SessionsActive, -1)
	metrics.ObserveHistogram(metrics.SessionDuration, duration.Seconds())

	if s.publisher != nil {
		s.publisher.PublishTranscript(messaging.SessionTranscript{
			SessionID:       sess.id,
			ClientID:        int(sess.params.ClientID),
			ProductID:       int(sess.params.ProductID),
			Method:          sess.method.String(),
			DurationSeconds: int64(duration.Seconds()),
			EndedAt:         time.Now(),
			Entries:         sess.snapshot(),
		})
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sess.id,
		"reason":     reason,
		"duration":   duration.Round(time.Second).String(),
	}).Info("Session ended")
}

// speakerLabel normalizes provider diarization tags ("0", "1", "spk_0")
// to the display labels "A", "B", ... Unrecognized tags pass through.
func speakerLabel(raw string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "spk_"))
	if err != nil || n < 0 || n >= 26 {
		return raw
	}
	return string(rune('A' + n))
}

// roleForSpeaker assigns conversation roles to diarized labels. The
// first diarized speaker ("A") is the salesperson wearing the
// microphone; everyone else is the counterpart.
func roleForSpeaker(label string) string {
	switch label {
	case "":
		return ""
	case "A":
		return "salesperson"
	default:
		return "client"
	}
}

// dropConnection ends every session owned by a departing connection.
func (s *Server) dropConnection(conn *wsConn) {
	var orphaned []*liveSession
	s.mu.RLock()
	for _, sess := range s.sessions {
		if sess.conn == conn {
			orphaned = append(orphaned, sess)
		}
	}
	s.mu.RUnlock()
	for _, sess := range orphaned {
		s.endSession(sess, "connection_lost")
	}
}
