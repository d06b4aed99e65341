package alarm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool   { return &b }
func intPtr(i int64) *int64 { return &i }

func testClass() *Class {
	return &Class{Fields: Fields{
		Category:         "CAMAC",
		Priority:         PriorityP3Minor,
		CorrectiveAction: "fix it",
		Rationale:        "because",
		Latching:         boolPtr(true),
		Filterable:       boolPtr(true),
		Location:         []string{"NL"},
		PointOfContact:   "tester",
		OnDelaySeconds:   intPtr(5),
	}}
}

// TestResolve_FillsUnsetFields checks that explicit fields win and unset ones come from the class.
func TestResolve_FillsUnsetFields(t *testing.T) {
	t.Parallel()

	reg := &Registration{
		Class: "base",
		Fields: Fields{
			Category: "RF",
			Latching: boolPtr(false),
			MaskedBy: "parent",
		},
	}

	got := Resolve(reg, testClass())

	require.Equal(t, "RF", got.Category)
	require.False(t, *got.Latching)
	require.Equal(t, "parent", got.MaskedBy)
	require.Equal(t, PriorityP3Minor, got.Priority)
	require.Equal(t, "fix it", got.CorrectiveAction)
	require.Equal(t, []string{"NL"}, got.Location)
	require.Equal(t, int64(5), *got.OnDelaySeconds)
	require.Nil(t, got.OffDelaySeconds)

	// Input is untouched.
	require.Empty(t, reg.Priority)
}

// TestResolve_Idempotent resolves twice against the same class.
func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	class := testClass()
	regs := []*Registration{
		{Class: "base"},
		{Class: "base", Fields: Fields{Rationale: "mine", Location: []string{"S1", "S2"}}},
		{Fields: Fields{Filterable: boolPtr(false), OffDelaySeconds: intPtr(3)}},
	}

	for _, reg := range regs {
		once := Resolve(reg, class)
		twice := Resolve(once, class)
		require.Equal(t, once, twice)
	}
}

// TestResolve_UnknownClass leaves unset fields unset.
func TestResolve_UnknownClass(t *testing.T) {
	t.Parallel()

	reg := &Registration{Class: "missing", Fields: Fields{Category: "RF"}}

	got := Resolve(reg, nil)
	require.Equal(t, reg, got)
	require.NotSame(t, reg, got)
	require.Nil(t, Resolve(nil, testClass()))
}

// TestResolve_NoAliasing ensures the result does not share memory with the class.
func TestResolve_NoAliasing(t *testing.T) {
	t.Parallel()

	class := testClass()
	got := Resolve(&Registration{}, class)

	*got.Latching = false
	got.Location[0] = "changed"

	require.True(t, *class.Latching)
	require.Equal(t, "NL", class.Location[0])
}

// TestEffectiveRegistration_Accessors checks derived flags.
func TestEffectiveRegistration_Accessors(t *testing.T) {
	t.Parallel()

	var empty *EffectiveRegistration

	require.False(t, empty.Latching())
	require.Empty(t, empty.MaskedBy())
	require.Zero(t, empty.OnDelay())

	eff := NewEffectiveRegistration(&Registration{Fields: Fields{MaskedBy: "p", OffDelaySeconds: intPtr(7)}}, testClass())
	require.True(t, eff.Latching())
	require.Equal(t, "p", eff.MaskedBy())
	require.Equal(t, int64(5), eff.OnDelay())
	require.Equal(t, int64(7), eff.OffDelay())
	require.Equal(t, testClass(), eff.Class)
}
