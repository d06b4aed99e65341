package alarm

// State is the composite, user-facing state of an alarm.
//
// The prefix is what an operator effectively sees (Active or Normal); the
// suffix names the override that decided it. Suppressing overrides
// (Disabled, Filtered, Masked, OnDelayed, Shelved) render Normal whatever
// the raw activation; holding overrides (OffDelayed, Latched) render Active.
type State string

// The full set of composite states.
const (
	StateNormal                  State = "Normal"
	StateActive                  State = "Active"
	StateNormalDisabled          State = "NormalDisabled"
	StateNormalFiltered          State = "NormalFiltered"
	StateNormalMasked            State = "NormalMasked"
	StateNormalOnDelayed         State = "NormalOnDelayed"
	StateNormalOneShotShelved    State = "NormalOneShotShelved"
	StateNormalContinuousShelved State = "NormalContinuousShelved"
	StateActiveOffDelayed        State = "ActiveOffDelayed"
	StateActiveLatched           State = "ActiveLatched"
)

// Activation is the raw, unfiltered alarm condition. A nil *Activation
// means the condition is normal.
type Activation struct {
	Note string `json:"note,omitempty"`
}

// Clone returns a copy of the activation.
func (a *Activation) Clone() *Activation {
	return clonePtr(a)
}

// Render derives the composite state from the raw activation, the active
// overrides and the class latching flag. Overrides are considered in Kinds
// order and the first one that applies wins. A Latched override only
// applies to latching alarms.
func Render(activation *Activation, overrides OverrideSet, latching bool) State {
	for _, kind := range Kinds {
		o := overrides[kind]
		if o == nil {
			continue
		}

		switch kind {
		case KindDisabled:
			return StateNormalDisabled
		case KindFiltered:
			return StateNormalFiltered
		case KindMasked:
			return StateNormalMasked
		case KindOnDelayed:
			return StateNormalOnDelayed
		case KindShelved:
			if o.OneShot() {
				return StateNormalOneShotShelved
			}

			return StateNormalContinuousShelved
		case KindOffDelayed:
			return StateActiveOffDelayed
		case KindLatched:
			if latching {
				return StateActiveLatched
			}
		}
	}

	if activation != nil {
		return StateActive
	}

	return StateNormal
}

// Effective reports whether the state annunciates as active.
func (s State) Effective() bool {
	switch s {
	case StateActive, StateActiveOffDelayed, StateActiveLatched:
		return true
	case StateNormal, StateNormalDisabled, StateNormalFiltered, StateNormalMasked,
		StateNormalOnDelayed, StateNormalOneShotShelved, StateNormalContinuousShelved:
		return false
	default:
		return false
	}
}
