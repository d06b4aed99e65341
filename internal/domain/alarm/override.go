package alarm

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates override records.
type Kind string

// The closed set of override kinds.
const (
	KindDisabled   Kind = "Disabled"
	KindFiltered   Kind = "Filtered"
	KindMasked     Kind = "Masked"
	KindOnDelayed  Kind = "OnDelayed"
	KindShelved    Kind = "Shelved"
	KindOffDelayed Kind = "OffDelayed"
	KindLatched    Kind = "Latched"
)

// Kinds lists every override kind in precedence order, highest first.
//
//nolint:gochecknoglobals // Closed, read-only enumeration.
var Kinds = []Kind{
	KindDisabled,
	KindFiltered,
	KindMasked,
	KindOnDelayed,
	KindShelved,
	KindOffDelayed,
	KindLatched,
}

var (
	// ErrUnknownKind is returned for a kind outside the closed set.
	ErrUnknownKind = errors.New("unknown override kind")
	// ErrPayloadMismatch is returned when the payload does not match the kind.
	ErrPayloadMismatch = errors.New("override payload does not match kind")
	// ErrUnknownReason is returned for a shelve without a known reason.
	ErrUnknownReason = errors.New("unknown shelving reason")
)

// ParseKind validates s as an override kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ShelvedReason explains why an operator shelved an alarm.
type ShelvedReason string

// Known shelving reasons.
const (
	ShelvedReasonStaleAlarm      ShelvedReason = "Stale_Alarm"
	ShelvedReasonChatteringAlarm ShelvedReason = "Chattering_Fleeting_Alarm"
	ShelvedReasonOther           ShelvedReason = "Other"
)

// Known reports whether r is one of the known shelving reasons.
func (r ShelvedReason) Known() bool {
	switch r {
	case ShelvedReasonStaleAlarm, ShelvedReasonChatteringAlarm, ShelvedReasonOther:
		return true
	default:
		return false
	}
}

// ShelvedOverride hides an alarm until it expires or, for one-shot shelves,
// until the alarm next returns to normal.
type ShelvedOverride struct {
	Reason     ShelvedReason `json:"reason"`
	Expiration time.Time     `json:"expiration"`
	OneShot    bool          `json:"oneshot"`
	Comment    string        `json:"comment,omitempty"`
}

// DisabledOverride takes an alarm out of service.
type DisabledOverride struct {
	Comment string `json:"comment,omitempty"`
}

// FilteredOverride hides an alarm by an operator filter.
type FilteredOverride struct {
	FilterName string `json:"filterName"`
}

// DelayedOverride holds an on- or off-delay until Expiration.
type DelayedOverride struct {
	Expiration time.Time `json:"expiration"`
}

// Override is a tagged union over the override kinds. Exactly the payload
// matching Kind may be set; Masked and Latched carry no payload.
type Override struct {
	Kind       Kind              `json:"kind"`
	Shelved    *ShelvedOverride  `json:"shelved,omitempty"`
	Disabled   *DisabledOverride `json:"disabled,omitempty"`
	Filtered   *FilteredOverride `json:"filtered,omitempty"`
	OnDelayed  *DelayedOverride  `json:"onDelayed,omitempty"`
	OffDelayed *DelayedOverride  `json:"offDelayed,omitempty"`
}

// OverrideKey addresses one override of one alarm.
type OverrideKey struct {
	Name Name `json:"name"`
	Kind Kind `json:"kind"`
}

// String renders the key as name/kind.
func (k OverrideKey) String() string {
	return k.Name + "/" + string(k.Kind)
}

// Masked returns a mask override.
func Masked() *Override { return &Override{Kind: KindMasked} }

// Latched returns a latch override.
func Latched() *Override { return &Override{Kind: KindLatched} }

// Shelved returns a shelve override.
func Shelved(s ShelvedOverride) *Override {
	return &Override{Kind: KindShelved, Shelved: &s}
}

// Disabled returns a disable override.
func Disabled(comment string) *Override {
	return &Override{Kind: KindDisabled, Disabled: &DisabledOverride{Comment: comment}}
}

// Filtered returns a filter override.
func Filtered(filter string) *Override {
	return &Override{Kind: KindFiltered, Filtered: &FilteredOverride{FilterName: filter}}
}

// OnDelayed returns an on-delay override expiring at exp.
func OnDelayed(exp time.Time) *Override {
	return &Override{Kind: KindOnDelayed, OnDelayed: &DelayedOverride{Expiration: exp}}
}

// OffDelayed returns an off-delay override expiring at exp.
func OffDelayed(exp time.Time) *Override {
	return &Override{Kind: KindOffDelayed, OffDelayed: &DelayedOverride{Expiration: exp}}
}

// Validate checks that the payload matches the kind.
func (o *Override) Validate() error {
	if _, err := ParseKind(string(o.Kind)); err != nil {
		return err
	}

	set := map[Kind]bool{
		KindShelved:    o.Shelved != nil,
		KindDisabled:   o.Disabled != nil,
		KindFiltered:   o.Filtered != nil,
		KindOnDelayed:  o.OnDelayed != nil,
		KindOffDelayed: o.OffDelayed != nil,
	}

	for k, present := range set {
		if present && k != o.Kind {
			return fmt.Errorf("%w: %s payload on %s", ErrPayloadMismatch, k, o.Kind)
		}
	}

	switch o.Kind {
	case KindShelved, KindOnDelayed, KindOffDelayed:
		if !set[o.Kind] {
			return fmt.Errorf("%w: %s requires a payload", ErrPayloadMismatch, o.Kind)
		}
	case KindDisabled, KindFiltered, KindMasked, KindLatched:
	}

	if o.Kind == KindShelved && !o.Shelved.Reason.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownReason, o.Shelved.Reason)
	}

	return nil
}

// Expiration returns the wall-clock expiry of the override, if it has one.
func (o *Override) Expiration() (time.Time, bool) {
	switch {
	case o == nil:
		return time.Time{}, false
	case o.Kind == KindShelved && o.Shelved != nil:
		return o.Shelved.Expiration, !o.Shelved.Expiration.IsZero()
	case o.Kind == KindOnDelayed && o.OnDelayed != nil:
		return o.OnDelayed.Expiration, !o.OnDelayed.Expiration.IsZero()
	case o.Kind == KindOffDelayed && o.OffDelayed != nil:
		return o.OffDelayed.Expiration, !o.OffDelayed.Expiration.IsZero()
	default:
		return time.Time{}, false
	}
}

// OneShot reports whether o is a one-shot shelve.
func (o *Override) OneShot() bool {
	return o != nil && o.Kind == KindShelved && o.Shelved != nil && o.Shelved.OneShot
}

// Clone returns a deep copy of the override.
func (o *Override) Clone() *Override {
	if o == nil {
		return nil
	}

	return &Override{
		Kind:       o.Kind,
		Shelved:    clonePtr(o.Shelved),
		Disabled:   clonePtr(o.Disabled),
		Filtered:   clonePtr(o.Filtered),
		OnDelayed:  clonePtr(o.OnDelayed),
		OffDelayed: clonePtr(o.OffDelayed),
	}
}

// OverrideSet holds at most one active override per kind.
type OverrideSet map[Kind]*Override

// Has reports whether kind is active.
func (s OverrideSet) Has(kind Kind) bool {
	return s[kind] != nil
}

// With returns a copy of s with o set.
func (s OverrideSet) With(o *Override) OverrideSet {
	out := s.Clone()
	out[o.Kind] = o.Clone()

	return out
}

// Without returns a copy of s without kind.
func (s OverrideSet) Without(kind Kind) OverrideSet {
	out := s.Clone()
	delete(out, kind)

	return out
}

// Clone returns a deep copy of the set. The result is never nil.
func (s OverrideSet) Clone() OverrideSet {
	out := make(OverrideSet, len(s))

	for k, o := range s {
		if o != nil {
			out[k] = o.Clone()
		}
	}

	return out
}
