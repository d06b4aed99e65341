package processor

import (
	"context"
	"time"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
)

// latch captures a latching alarm on its way to active. The Latched override
// is written to the store and the update is flagged so the effective stage
// holds it back until the override comes back as a store change.
func (e *Engine) latch(ctx context.Context, m *domain.Monolog) error {
	if m.Removed() || !m.Transitions.ToActive || !m.Registration.Latching() {
		return nil
	}

	// A masked alarm is never latched.
	if m.Notification.Overrides.Has(domain.KindLatched) || m.Notification.Overrides.Has(domain.KindMasked) {
		return nil
	}

	key := domain.OverrideKey{Name: m.Name, Kind: domain.KindLatched}
	if err := e.overrides.Put(ctx, key, domain.Latched()); err != nil {
		return err
	}

	e.metrics.overrideOps.WithLabelValues("latch", string(domain.KindLatched), "put").Inc()
	logger.DebugKV(ctx, "Alarm latched", "alarm", m.Name)

	m.Transitions.Latching = true

	return nil
}

// delay applies the on- and off-delays of the registration. Delay overrides
// are added to the monolog right away so the current update already renders
// them.
func (e *Engine) delay(ctx context.Context, m *domain.Monolog) error {
	if m.Removed() {
		return nil
	}

	overrides := m.Notification.Overrides

	switch {
	case m.Transitions.ToActive:
		if overrides.Has(domain.KindOffDelayed) {
			if err := e.dropDelay(ctx, m, domain.KindOffDelayed); err != nil {
				return err
			}
		}

		if seconds := m.Registration.OnDelay(); seconds > 0 {
			o := domain.OnDelayed(e.now().Add(time.Duration(seconds) * time.Second))

			return e.putDelay(ctx, m, o)
		}
	case m.Transitions.ToNormal:
		if overrides.Has(domain.KindOnDelayed) {
			return e.dropDelay(ctx, m, domain.KindOnDelayed)
		}

		if seconds := m.Registration.OffDelay(); seconds > 0 {
			o := domain.OffDelayed(e.now().Add(time.Duration(seconds) * time.Second))

			return e.putDelay(ctx, m, o)
		}
	}

	return nil
}

func (e *Engine) putDelay(ctx context.Context, m *domain.Monolog, o *domain.Override) error {
	key := domain.OverrideKey{Name: m.Name, Kind: o.Kind}
	if err := e.overrides.Put(ctx, key, o); err != nil {
		return err
	}

	e.metrics.overrideOps.WithLabelValues("delay", string(o.Kind), "put").Inc()
	m.Notification.Overrides = m.Notification.Overrides.With(o)

	return nil
}

func (e *Engine) dropDelay(ctx context.Context, m *domain.Monolog, kind domain.Kind) error {
	removed, err := e.overrides.Remove(ctx, domain.OverrideKey{Name: m.Name, Kind: kind})
	if err != nil {
		return err
	}

	if removed {
		e.metrics.overrideOps.WithLabelValues("delay", string(kind), "remove").Inc()
	}

	m.Notification.Overrides = m.Notification.Overrides.Without(kind)

	return nil
}

// oneShot removes a one-shot shelve the first time its alarm returns to
// normal and flags the update as unshelving. An update without the
// transition, or with the shelve already gone, passes through untouched.
func (e *Engine) oneShot(ctx context.Context, m *domain.Monolog) error {
	if m.Removed() || !m.Transitions.ToNormal {
		return nil
	}

	if !m.Notification.Overrides[domain.KindShelved].OneShot() {
		return nil
	}

	key := domain.OverrideKey{Name: m.Name, Kind: domain.KindShelved}

	removed, err := e.overrides.RemoveIf(ctx, key, (*domain.Override).OneShot)
	if err != nil {
		return err
	}

	m.Notification.Overrides = m.Notification.Overrides.Without(domain.KindShelved)

	if !removed {
		return nil
	}

	e.metrics.overrideOps.WithLabelValues("oneshot", string(domain.KindShelved), "remove").Inc()
	logger.DebugKV(ctx, "One-shot shelve released", "alarm", m.Name)

	m.Transitions.Unshelving = true

	return nil
}
