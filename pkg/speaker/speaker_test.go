package speaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerbatimPassesLabelsThrough(t *testing.T) {
	v := NewVerbatim()

	attr := v.Attribute("hello", Attribution{Speaker: "B", Role: RoleClient}, true, time.Now())
	assert.Equal(t, "B", attr.Speaker)
	assert.Equal(t, RoleClient, attr.Role)
}

func TestVerbatimDefaultsMissingLabels(t *testing.T) {
	v := NewVerbatim()

	attr := v.Attribute("hello", Attribution{}, true, time.Now())
	assert.Equal(t, "unknown", attr.Speaker)
	assert.Equal(t, RoleUnknown, attr.Role)
}

func TestAlternatorFirstFinalIsSalesperson(t *testing.T) {
	a := NewAlternator()

	attr := a.Attribute("dzień dobry", Attribution{}, true, time.Now())
	assert.Equal(t, "A", attr.Speaker)
	assert.Equal(t, RoleSalesperson, attr.Role)
}

func TestAlternatorStrictlyAlternatesFinals(t *testing.T) {
	a := NewAlternator()
	now := time.Now()

	want := []Attribution{
		{Speaker: "A", Role: RoleSalesperson},
		{Speaker: "B", Role: RoleClient},
		{Speaker: "A", Role: RoleSalesperson},
		{Speaker: "B", Role: RoleClient},
		{Speaker: "A", Role: RoleSalesperson},
	}
	for i, w := range want {
		attr := a.Attribute("utterance", Attribution{}, true, now)
		assert.Equalf(t, w, attr, "final #%d", i+1)
	}
	assert.Len(t, a.History(), len(want))
}

func TestAlternatorPartialsInheritWithoutAppending(t *testing.T) {
	a := NewAlternator()
	now := time.Now()

	// Before any final, partials belong to the upcoming salesperson turn.
	attr := a.Attribute("dzie", Attribution{}, false, now)
	assert.Equal(t, "A", attr.Speaker)
	assert.Empty(t, a.History())

	a.Attribute("dzień dobry", Attribution{}, true, now)

	// Repeated partials after one final all map to the upcoming B turn and
	// never advance the history.
	for i := 0; i < 3; i++ {
		attr = a.Attribute("czeka", Attribution{}, false, now)
		assert.Equal(t, "B", attr.Speaker)
		assert.Equal(t, RoleClient, attr.Role)
	}
	assert.Len(t, a.History(), 1)

	// The eventual final lands on the same speaker the partials showed.
	attr = a.Attribute("czekam na ofertę", Attribution{}, true, now)
	assert.Equal(t, "B", attr.Speaker)
	assert.Len(t, a.History(), 2)
}

func TestAlternatorIgnoresProvidedLabels(t *testing.T) {
	a := NewAlternator()

	// The local heuristic never trusts external labels.
	attr := a.Attribute("hello", Attribution{Speaker: "Z", Role: RoleClient}, true, time.Now())
	assert.Equal(t, "A", attr.Speaker)
	assert.Equal(t, RoleSalesperson, attr.Role)
}

func TestAlternatorResetDiscardsHistory(t *testing.T) {
	a := NewAlternator()
	a.Attribute("one", Attribution{}, true, time.Now())
	a.Attribute("two", Attribution{}, true, time.Now())

	a.Reset()
	assert.Empty(t, a.History())

	// A fresh session starts over at the salesperson.
	attr := a.Attribute("three", Attribution{}, true, time.Now())
	assert.Equal(t, "A", attr.Speaker)
}
