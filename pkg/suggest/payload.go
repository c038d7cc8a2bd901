// Package suggest talks to the external completion service and models its
// coaching output. The service answers in several shapes; the payload type
// covers every known variant plus a raw fallback so new shapes degrade
// gracefully instead of being dropped.
package suggest

import (
	"encoding/json"
	"strings"
)

// Payload is the polymorphic coaching output of the completion service.
// Any combination of fields may be present; consumers must compose all
// populated sections rather than pick the first match.
type Payload struct {
	// Text is free-form coaching prose.
	Text string `json:"text,omitempty"`

	// Suggestions is the list of coaching suggestions.
	Suggestions []string `json:"sugestie,omitempty"`

	// ActionItems lists concrete follow-up items.
	ActionItems []string `json:"action_items,omitempty"`

	// NextAction is the single recommended next move.
	NextAction string `json:"next_action,omitempty"`

	// Signals lists buying or risk signals detected in the conversation.
	Signals []string `json:"signals,omitempty"`

	// SpeakerAnalysis describes the counterpart's behavior.
	SpeakerAnalysis string `json:"speaker_analysis,omitempty"`

	// Intent is the detected client intent.
	Intent string `json:"intent,omitempty"`

	// Raw preserves a payload that matched no known field, so the UI can
	// still show something and logs keep the evidence.
	Raw json.RawMessage `json:"-"`
}

// Section is one renderable block of a payload.
type Section struct {
	Title string
	Lines []string
}

// Parse interprets a completion response body. A JSON object fills the known
// fields; a JSON string or plain prose becomes the free-text variant; an
// object with no recognized field is kept raw.
func Parse(data []byte) Payload {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Payload{}
	}

	var asString string
	if err := json.Unmarshal([]byte(trimmed), &asString); err == nil {
		return Payload{Text: asString}
	}

	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		// Not JSON at all: treat the whole thing as prose.
		return Payload{Text: trimmed}
	}
	if p.Empty() {
		p.Raw = json.RawMessage(trimmed)
	}
	return p
}

// Empty reports whether no known field is populated.
func (p Payload) Empty() bool {
	return p.Text == "" &&
		len(p.Suggestions) == 0 &&
		len(p.ActionItems) == 0 &&
		p.NextAction == "" &&
		len(p.Signals) == 0 &&
		p.SpeakerAnalysis == "" &&
		p.Intent == ""
}

// Sections returns every populated section in display order. Multiple
// populated fields yield multiple sections.
func (p Payload) Sections() []Section {
	var out []Section
	if p.Text != "" {
		out = append(out, Section{Title: "coaching", Lines: []string{p.Text}})
	}
	if len(p.Suggestions) > 0 {
		out = append(out, Section{Title: "suggestions", Lines: p.Suggestions})
	}
	if len(p.ActionItems) > 0 {
		out = append(out, Section{Title: "action-items", Lines: p.ActionItems})
	}
	if p.NextAction != "" {
		out = append(out, Section{Title: "next-action", Lines: []string{p.NextAction}})
	}
	if len(p.Signals) > 0 {
		out = append(out, Section{Title: "signals", Lines: p.Signals})
	}
	if p.SpeakerAnalysis != "" {
		out = append(out, Section{Title: "speaker-analysis", Lines: []string{p.SpeakerAnalysis}})
	}
	if p.Intent != "" {
		out = append(out, Section{Title: "intent", Lines: []string{p.Intent}})
	}
	if len(out) == 0 && len(p.Raw) > 0 {
		out = append(out, Section{Title: "raw", Lines: []string{string(p.Raw)}})
	}
	return out
}
