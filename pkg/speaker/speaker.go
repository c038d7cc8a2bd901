// Package speaker assigns a speaker identity and role to each utterance.
// Two interchangeable strategies exist, selected by the session method:
// verbatim trust of the remote transcriber's diarization, or a local
// alternation heuristic for recognizers that provide none.
package speaker

import (
	"sync"
	"time"
)

// Role is the conversational role attached to an utterance.
type Role string

const (
	RoleSalesperson Role = "salesperson"
	RoleClient      Role = "client"
	RoleUnknown     Role = "unknown"
)

// Attribution pairs a speaker tag with its role.
type Attribution struct {
	Speaker string
	Role    Role
}

// Entry is one finalized utterance kept in the conversation history.
type Entry struct {
	Speaker   string
	Role      Role
	Text      string
	Timestamp time.Time
}

// Engine attributes utterances to speakers. Finalized utterances may advance
// internal state; partial ones must not.
type Engine interface {
	Attribute(text string, provided Attribution, isFinal bool, at time.Time) Attribution
	Reset()
}

// Verbatim trusts the speaker label supplied by the remote transcriber and
// performs no local inference. Missing labels map to unknown.
type Verbatim struct{}

// NewVerbatim returns the pass-through attribution engine.
func NewVerbatim() *Verbatim {
	return &Verbatim{}
}

// Attribute returns the provided attribution, substituting unknown when the
// transcriber sent no label.
func (v *Verbatim) Attribute(_ string, provided Attribution, _ bool, _ time.Time) Attribution {
	if provided.Speaker == "" {
		provided.Speaker = "unknown"
	}
	if provided.Role == "" {
		provided.Role = RoleUnknown
	}
	return provided
}

// Reset is a no-op; the verbatim engine is stateless.
func (v *Verbatim) Reset() {}

// Alternator is the local heuristic for recognizers without diarization.
// The first finalized utterance of a session is the salesperson (tag "A");
// every later finalized utterance alternates against the previous finalized
// one. Partial utterances inherit the speaker the eventual final would get
// and never touch the history.
//
// Strict alternation is a known approximation: two consecutive turns by the
// same person are still attributed to alternating speakers. This is the
// intended behavior, not a defect to correct here.
type Alternator struct {
	mu      sync.Mutex
	history []Entry
}

// NewAlternator returns an alternation engine with empty history.
func NewAlternator() *Alternator {
	return &Alternator{}
}

// Attribute computes the attribution for the utterance. Finalized utterances
// are appended to the conversation history; partials are not.
func (a *Alternator) Attribute(text string, _ Attribution, isFinal bool, at time.Time) Attribution {
	a.mu.Lock()
	defer a.mu.Unlock()

	attr := a.nextLocked()
	if isFinal {
		a.history = append(a.history, Entry{
			Speaker:   attr.Speaker,
			Role:      attr.Role,
			Text:      text,
			Timestamp: at,
		})
	}
	return attr
}

// nextLocked derives the attribution from the last finalized entry.
func (a *Alternator) nextLocked() Attribution {
	if len(a.history) == 0 {
		return Attribution{Speaker: "A", Role: RoleSalesperson}
	}
	if a.history[len(a.history)-1].Speaker == "A" {
		return Attribution{Speaker: "B", Role: RoleClient}
	}
	return Attribution{Speaker: "A", Role: RoleSalesperson}
}

// History returns a copy of the finalized conversation history.
func (a *Alternator) History() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.history))
	copy(out, a.history)
	return out
}

// Reset discards the conversation history at session end.
func (a *Alternator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}
