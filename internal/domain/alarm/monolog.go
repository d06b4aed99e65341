package alarm

// Transitions describe what happened to the raw condition on one update.
// At most one of ToActive and ToNormal is true; both false means no edge.
type Transitions struct {
	ToActive bool `json:"toActive"`
	ToNormal bool `json:"toNormal"`
	// Latching is set when a latch override was requested on this update
	// and the effective state must wait for it.
	Latching bool `json:"latching"`
	// Unshelving is set when a one-shot shelve was removed by this update.
	Unshelving bool `json:"unshelving"`
}

// Detect derives the edge between the previous and the next activation.
func Detect(prev, next *Activation) Transitions {
	return Transitions{
		ToActive: prev == nil && next != nil,
		ToNormal: prev != nil && next == nil,
	}
}

// Notification is the published effective state of an alarm.
type Notification struct {
	// Activation is the activation memory; nil means normal.
	Activation *Activation `json:"activation,omitempty"`
	// Overrides are the overrides active when State was rendered.
	Overrides OverrideSet `json:"overrides"`
	// State is rendered from the two fields above and the class.
	State State `json:"state"`
}

// Clone returns a deep copy of the notification.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}

	return &Notification{
		Activation: n.Activation.Clone(),
		Overrides:  n.Overrides.Clone(),
		State:      n.State,
	}
}

// Monolog threads one alarm update through the processing stages.
type Monolog struct {
	Name         Name                   `json:"name"`
	Registration *EffectiveRegistration `json:"registration,omitempty"`
	// Notification is nil when the alarm has been removed.
	Notification *Notification `json:"notification,omitempty"`
	Transitions  Transitions   `json:"transitions"`
}

// Removed reports whether the update is an alarm removal.
func (m *Monolog) Removed() bool {
	return m.Notification == nil
}

// Clone returns a deep copy of the monolog.
func (m *Monolog) Clone() *Monolog {
	if m == nil {
		return nil
	}

	return &Monolog{
		Name:         m.Name,
		Registration: m.Registration.Clone(),
		Notification: m.Notification.Clone(),
		Transitions:  m.Transitions,
	}
}

// EffectiveAlarm pairs the effective registration with the notification.
type EffectiveAlarm struct {
	Registration *EffectiveRegistration `json:"registration,omitempty"`
	Notification *Notification          `json:"notification"`
}
