// Package transcript accumulates the running session transcript and the
// incoming coaching suggestions for display. The transcript log is append
// only and ordered by finalization; a single in-progress slot tracks the
// current partial utterance and is replaced on every update.
package transcript

import (
	"sync"
	"time"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/speaker"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/suggest"
)

// DefaultConfidence is used when the recognizer supplied no score.
const DefaultConfidence = 0.8

// MaxSuggestionViews bounds the suggestion display history. Older entries
// fall out of the view only; nothing is removed from any persisted log.
const MaxSuggestionViews = 10

// Entry is one utterance in the transcript log.
type Entry struct {
	Speaker    string
	Role       speaker.Role
	Text       string
	Confidence float64
	Timestamp  time.Time
}

// SuggestionView is one rendered suggestion payload, newest first.
type SuggestionView struct {
	Payload    suggest.Payload
	ReceivedAt time.Time
}

// Aggregator collects finalized utterances, the in-progress partial and the
// bounded suggestion history. Safe for concurrent use.
type Aggregator struct {
	mu          sync.Mutex
	log         []Entry
	partial     *Entry
	suggestions []SuggestionView
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// SetPartial replaces the in-progress utterance slot.
func (a *Aggregator) SetPartial(e Entry) {
	if e.Confidence == 0 {
		e.Confidence = DefaultConfidence
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = &e
}

// Finalize removes the partial slot and appends the finalized utterance to
// the log. The partial is cleared before appending so the UI never shows the
// same utterance twice.
func (a *Aggregator) Finalize(e Entry) {
	if e.Confidence == 0 {
		e.Confidence = DefaultConfidence
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = nil
	a.log = append(a.log, e)
}

// Partial returns the current in-progress utterance, or nil.
func (a *Aggregator) Partial() *Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.partial == nil {
		return nil
	}
	cp := *a.partial
	return &cp
}

// Log returns a copy of the finalized transcript in finalization order.
func (a *Aggregator) Log() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.log))
	copy(out, a.log)
	return out
}

// AddSuggestions prepends a suggestion payload to the view, discarding the
// oldest entries beyond the bound.
func (a *Aggregator) AddSuggestions(p suggest.Payload, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suggestions = append([]SuggestionView{{Payload: p, ReceivedAt: at}}, a.suggestions...)
	if len(a.suggestions) > MaxSuggestionViews {
		a.suggestions = a.suggestions[:MaxSuggestionViews]
	}
}

// Suggestions returns the bounded suggestion history, most recent first.
func (a *Aggregator) Suggestions() []SuggestionView {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SuggestionView, len(a.suggestions))
	copy(out, a.suggestions)
	return out
}

// Reset clears everything for the next session.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = nil
	a.partial = nil
	a.suggestions = nil
}
