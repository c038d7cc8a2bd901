package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestionList(t *testing.T) {
	p := Parse([]byte(`{"sugestie":["ask about budget","mention the discount"]}`))

	assert.Equal(t, []string{"ask about budget", "mention the discount"}, p.Suggestions)
	sections := p.Sections()
	require.Len(t, sections, 1)
	assert.Equal(t, "suggestions", sections[0].Title)
}

func TestParseComposesMultipleSections(t *testing.T) {
	p := Parse([]byte(`{
		"sugestie": ["zapytaj o budżet"],
		"next_action": "umów prezentację",
		"signals": ["klient pyta o cenę"],
		"speaker_analysis": "rozmówca analityczny",
		"intent": "porównuje oferty"
	}`))

	sections := p.Sections()
	require.Len(t, sections, 5, "every populated field must render, not just the first")

	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = s.Title
	}
	assert.Equal(t, []string{"suggestions", "next-action", "signals", "speaker-analysis", "intent"}, titles)
}

func TestParseFreeTextVariants(t *testing.T) {
	// A JSON string is free text.
	p := Parse([]byte(`"spróbuj podsumować potrzeby klienta"`))
	assert.Equal(t, "spróbuj podsumować potrzeby klienta", p.Text)

	// Plain prose that is not JSON is free text too.
	p = Parse([]byte("just keep listening"))
	assert.Equal(t, "just keep listening", p.Text)

	// An object with a text field.
	p = Parse([]byte(`{"text":"dobrze prowadzisz rozmowę"}`))
	assert.Equal(t, "dobrze prowadzisz rozmowę", p.Text)
}

func TestParseActionItemsAndNextAction(t *testing.T) {
	p := Parse([]byte(`{"action_items":["wyślij ofertę","zadzwoń w piątek"],"next_action":"domknij termin"}`))

	assert.Equal(t, []string{"wyślij ofertę", "zadzwoń w piątek"}, p.ActionItems)
	assert.Equal(t, "domknij termin", p.NextAction)
	assert.Len(t, p.Sections(), 2)
}

func TestParseUnknownShapeFallsBackToRaw(t *testing.T) {
	raw := `{"totally_new_field":{"x":1}}`
	p := Parse([]byte(raw))

	assert.True(t, p.Empty())
	assert.JSONEq(t, raw, string(p.Raw))

	sections := p.Sections()
	require.Len(t, sections, 1)
	assert.Equal(t, "raw", sections[0].Title)
}

func TestParseEmptyInput(t *testing.T) {
	p := Parse(nil)
	assert.True(t, p.Empty())
	assert.Empty(t, p.Sections())
}
