package alarm

import "slices"

// Name is the alarm identity and the partition key for all per-alarm state.
type Name = string

// Priority ranks alarms for operators.
type Priority string

// Known priorities.
const (
	PriorityP1Critical Priority = "P1_CRITICAL"
	PriorityP2Major    Priority = "P2_MAJOR"
	PriorityP3Minor    Priority = "P3_MINOR"
	PriorityP4Incident Priority = "P4_INCIDENT"
)

// Fields are the optional attributes shared by classes and registrations.
// A zero value (nil pointer, empty string, nil slice) means unset.
type Fields struct {
	Category         string   `json:"category,omitempty"`
	Priority         Priority `json:"priority,omitempty"`
	CorrectiveAction string   `json:"correctiveAction,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
	Latching         *bool    `json:"latching,omitempty"`
	Filterable       *bool    `json:"filterable,omitempty"`
	Location         []string `json:"location,omitempty"`
	PointOfContact   string   `json:"pointOfContact,omitempty"`
	ScreenCommand    string   `json:"screenCommand,omitempty"`
	OnDelaySeconds   *int64   `json:"onDelaySeconds,omitempty"`
	OffDelaySeconds  *int64   `json:"offDelaySeconds,omitempty"`
	MaskedBy         string   `json:"maskedBy,omitempty"`
}

// Class holds the defaults shared by every alarm of the class.
type Class struct {
	Fields
}

// Registration is the explicit registration of one alarm.
type Registration struct {
	// Class names the class whose defaults fill unset fields.
	Class string `json:"class,omitempty"`

	Fields
}

// EffectiveRegistration is a registration merged with its class.
type EffectiveRegistration struct {
	// Class is the class record used for the merge; nil when unknown.
	Class *Class `json:"class,omitempty"`
	// Actual is the registration as submitted.
	Actual *Registration `json:"actual,omitempty"`
	// Calculated is the merge result.
	Calculated *Registration `json:"calculated,omitempty"`
}

// Resolve merges reg with class: every unset field of reg is taken from
// class. Explicit fields always win, a nil class leaves fields unset, and
// resolving the result again with the same class returns an equal value.
func Resolve(reg *Registration, class *Class) *Registration {
	if reg == nil {
		return nil
	}

	out := reg.Clone()
	if class == nil {
		return out
	}

	f, d := &out.Fields, &class.Fields

	f.Category = orString(f.Category, d.Category)
	f.Priority = Priority(orString(string(f.Priority), string(d.Priority)))
	f.CorrectiveAction = orString(f.CorrectiveAction, d.CorrectiveAction)
	f.Rationale = orString(f.Rationale, d.Rationale)
	f.Latching = orPtr(f.Latching, d.Latching)
	f.Filterable = orPtr(f.Filterable, d.Filterable)
	f.PointOfContact = orString(f.PointOfContact, d.PointOfContact)
	f.ScreenCommand = orString(f.ScreenCommand, d.ScreenCommand)
	f.OnDelaySeconds = orPtr(f.OnDelaySeconds, d.OnDelaySeconds)
	f.OffDelaySeconds = orPtr(f.OffDelaySeconds, d.OffDelaySeconds)
	f.MaskedBy = orString(f.MaskedBy, d.MaskedBy)

	if f.Location == nil {
		f.Location = slices.Clone(d.Location)
	}

	return out
}

// NewEffectiveRegistration resolves reg against class.
func NewEffectiveRegistration(reg *Registration, class *Class) *EffectiveRegistration {
	if reg == nil {
		return nil
	}

	return &EffectiveRegistration{
		Class:      class.Clone(),
		Actual:     reg.Clone(),
		Calculated: Resolve(reg, class),
	}
}

// Latching reports whether the resolved registration latches.
func (e *EffectiveRegistration) Latching() bool {
	if e == nil || e.Calculated == nil || e.Calculated.Latching == nil {
		return false
	}

	return *e.Calculated.Latching
}

// MaskedBy returns the parent alarm name, if any.
func (e *EffectiveRegistration) MaskedBy() Name {
	if e == nil || e.Calculated == nil {
		return ""
	}

	return e.Calculated.MaskedBy
}

// OnDelay returns the configured on-delay in seconds, zero when unset.
func (e *EffectiveRegistration) OnDelay() int64 {
	if e == nil || e.Calculated == nil || e.Calculated.OnDelaySeconds == nil {
		return 0
	}

	return *e.Calculated.OnDelaySeconds
}

// OffDelay returns the configured off-delay in seconds, zero when unset.
func (e *EffectiveRegistration) OffDelay() int64 {
	if e == nil || e.Calculated == nil || e.Calculated.OffDelaySeconds == nil {
		return 0
	}

	return *e.Calculated.OffDelaySeconds
}

// Clone returns a deep copy of the fields.
func (f *Fields) Clone() Fields {
	out := *f
	out.Latching = clonePtr(f.Latching)
	out.Filterable = clonePtr(f.Filterable)
	out.OnDelaySeconds = clonePtr(f.OnDelaySeconds)
	out.OffDelaySeconds = clonePtr(f.OffDelaySeconds)
	out.Location = slices.Clone(f.Location)

	return out
}

// Clone returns a deep copy of the class.
func (c *Class) Clone() *Class {
	if c == nil {
		return nil
	}

	return &Class{Fields: c.Fields.Clone()}
}

// Clone returns a deep copy of the registration.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}

	return &Registration{Class: r.Class, Fields: r.Fields.Clone()}
}

// Clone returns a deep copy of the effective registration.
func (e *EffectiveRegistration) Clone() *EffectiveRegistration {
	if e == nil {
		return nil
	}

	return &EffectiveRegistration{
		Class:      e.Class.Clone(),
		Actual:     e.Actual.Clone(),
		Calculated: e.Calculated.Clone(),
	}
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}

	return fallback
}

func orPtr[T any](v, fallback *T) *T {
	if v != nil {
		return v
	}

	return clonePtr(fallback)
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
