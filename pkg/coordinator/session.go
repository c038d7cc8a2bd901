package coordinator

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/messaging"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/protocol"
)

// wsConn serializes writes to one WebSocket connection. gorilla/websocket
// allows a single concurrent writer, and transcription callbacks arrive
// from provider goroutines.
type wsConn struct {
	logger *logrus.Logger
	mu     sync.Mutex
	conn   *websocket.Conn
}

func (c *wsConn) send(t protocol.Type, payload interface{}) error {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// liveSession is the server-side record of one coaching session.
type liveSession struct {
	id        string
	method    protocol.Method
	params    protocol.StartSession
	conn      *wsConn
	startedAt time.Time

	// audio feeds the provider stream for remote transcription sessions
	audio  *io.PipeWriter
	cancel context.CancelFunc

	mu          sync.Mutex
	entries     []messaging.TranscriptEntry
	ended       bool
	suggestBusy bool
}

// appendFinal records a finalized utterance for suggestion context and
// the end-of-session transcript.
func (s *liveSession) appendFinal(speaker, role, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, messaging.TranscriptEntry{
		Speaker:   speaker,
		Role:      role,
		Text:      text,
		Timestamp: at,
	})
}

// snapshot copies the finalized entries for use outside the lock.
func (s *liveSession) snapshot() []messaging.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]messaging.TranscriptEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// markEnded flips the session into its terminal state exactly once.
func (s *liveSession) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

// trySuggest claims the single suggestion slot. The caller must release
// it with releaseSuggest when the completion round trip finishes.
func (s *liveSession) trySuggest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.suggestBusy {
		return false
	}
	s.suggestBusy = true
	return true
}

func (s *liveSession) releaseSuggest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestBusy = false
}
