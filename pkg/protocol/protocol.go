// Package protocol defines the tagged message records exchanged between the
// operator client and the session coordinator. Every frame on the wire is a
// JSON envelope carrying a type tag and a payload; unknown tags are ignored
// by both ends so either side can be upgraded independently.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type tags a message on the wire.
type Type string

// Client to server messages.
const (
	TypeStartSession    Type = "START_SESSION"
	TypeAudioChunk      Type = "AUDIO_CHUNK"
	TypeLocalTranscript Type = "LOCAL_TRANSCRIPT"
	TypeEndSession      Type = "END_SESSION"
)

// Server to client messages.
const (
	TypeSessionStarted    Type = "SESSION_STARTED"
	TypePartialTranscript Type = "PARTIAL_TRANSCRIPT"
	TypeFinalTranscript   Type = "FINAL_TRANSCRIPT"
	TypeSuggestions       Type = "SUGGESTIONS"
	TypeSessionEnded      Type = "SESSION_ENDED"
	TypeSessionError      Type = "SESSION_ERROR"
)

// Method selects the transcription and attribution strategy for a session.
type Method int

const (
	// MethodRemote streams raw PCM to the remote diarizing transcriber
	MethodRemote Method = 1
	// MethodLocal uses an on-device recognizer plus the local speaker heuristic
	MethodLocal Method = 2
)

// Valid reports whether the method is one of the two known strategies.
func (m Method) Valid() bool {
	return m == MethodRemote || m == MethodLocal
}

func (m Method) String() string {
	switch m {
	case MethodRemote:
		return "remote"
	case MethodLocal:
		return "local"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Envelope is the outer wire frame.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartSession requests session creation. The server responds asynchronously
// with SessionStarted; the session id is assigned server-side only.
type StartSession struct {
	Method    Method `json:"method"`
	ClientID  int64  `json:"clientId"`
	ProductID int64  `json:"productId"`
	Notes     string `json:"notes,omitempty"`
	UserID    int64  `json:"userId"`
}

// AudioChunk carries one base64-encoded little-endian 16-bit PCM frame.
// Only valid once the session id is known.
type AudioChunk struct {
	SessionID string `json:"sessionId"`
	AudioData string `json:"audioData"`
}

// Transcript is one recognized span of speech, partial or final.
type Transcript struct {
	Text        string    `json:"text"`
	IsFinal     bool      `json:"isFinal"`
	Confidence  float64   `json:"confidence,omitempty"`
	Language    string    `json:"language,omitempty"`
	Speaker     string    `json:"speaker,omitempty"`
	SpeakerRole string    `json:"speakerRole,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// LocalTranscript forwards an on-device recognition result to the server.
type LocalTranscript struct {
	SessionID  string     `json:"sessionId"`
	Transcript Transcript `json:"transcript"`
}

// EndSession requests graceful termination.
type EndSession struct {
	SessionID string `json:"sessionId"`
}

// SessionStarted acknowledges session creation and assigns the id.
type SessionStarted struct {
	SessionID string `json:"sessionId"`
	Method    Method `json:"method"`
}

// PartialTranscript is an interim recognition update for the current utterance.
type PartialTranscript struct {
	Transcript Transcript `json:"transcript"`
}

// FinalTranscript is a finalized utterance.
type FinalTranscript struct {
	Transcript Transcript `json:"transcript"`
}

// Suggestions carries one coaching payload from the completion service.
// The payload shape is polymorphic; see the suggest package.
type Suggestions struct {
	Suggestions json.RawMessage `json:"suggestions"`
	SpeakerInfo json.RawMessage `json:"speakerInfo,omitempty"`
}

// SessionEnded confirms termination.
type SessionEnded struct{}

// SessionError signals a fatal session error pushed by the coordinator.
type SessionError struct {
	Message string `json:"message"`
}

// Encode wraps a payload in an envelope and marshals it for the wire.
func Encode(t Type, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Decode parses a wire frame into its envelope. Payload decoding is left to
// the dispatcher so unknown types can be skipped without error.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope is missing a type tag")
	}
	return &env, nil
}

// DecodePayload unmarshals an envelope payload into the given message struct.
func DecodePayload(env *Envelope, into interface{}) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return nil
}
