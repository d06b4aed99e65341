package processor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// record is the per-alarm memory owned by one partition.
type record struct {
	registration *domain.EffectiveRegistration
	// activation is the activation memory; nil means normal.
	activation *domain.Activation
	// published is the encoded last published notification.
	published []byte
	// publishedRegistration is the encoded last published effective
	// registration.
	publishedRegistration []byte
}

// partition processes the work items of the alarms hashed to it, one at a
// time, in arrival order.
type partition struct {
	id     int
	engine *Engine
	queue  *queue
	alarms map[domain.Name]*record
}

func newPartition(id int, e *Engine) *partition {
	return &partition{
		id:     id,
		engine: e,
		queue:  newQueue(),
		alarms: make(map[domain.Name]*record),
	}
}

func (p *partition) record(name domain.Name) *record {
	rec := p.alarms[name]
	if rec == nil {
		rec = new(record)
		p.alarms[name] = rec
	}

	return rec
}

// run processes items until ctx is done. A processing error is fatal.
func (p *partition) run(ctx context.Context) error {
	ctx = logger.WithKV(ctx, "partition", p.id)
	label := strconv.Itoa(p.id)

	for {
		it, err := p.queue.pop(ctx)
		if err != nil {
			return nil //nolint:nilerr // Cancellation is a normal stop.
		}

		p.engine.metrics.queueSize.WithLabelValues(label).Set(float64(p.queue.len()))

		if err = p.process(ctx, it); err != nil {
			p.engine.fail(ctx, err)

			return err
		}
	}
}

func (p *partition) process(ctx context.Context, it item) error {
	p.engine.metrics.processed.WithLabelValues(it.kind.String()).Inc()

	switch it.kind {
	case itemRegistration:
		return p.applyRegistration(ctx, it.name)
	case itemActivation:
		return p.applyActivation(ctx, it)
	case itemRefresh:
		return p.refresh(ctx, it.name)
	case itemOverride:
		return p.overrideChanged(ctx, it.name)
	case itemMask:
		return p.engine.cascade(ctx, it.name, it.parent, it.parentActive)
	case itemReconcile:
		return p.reconcile(ctx, it)
	default:
		return fmt.Errorf("%w: item kind %d", domain.ErrMalformed, it.kind)
	}
}

// applyRegistration publishes the registration the registry now holds for
// name. The registry is written at intake.
func (p *partition) applyRegistration(ctx context.Context, name domain.Name) error {
	eff := p.engine.registry.effective(name)
	if eff == nil {
		return p.remove(ctx, name)
	}

	return p.setRegistration(ctx, name, eff)
}

// overrideChanged re-renders name after its override set changed. An alarm
// that is neither registered nor published and has no overrides left has
// nothing to show, which keeps a removed alarm removed.
func (p *partition) overrideChanged(ctx context.Context, name domain.Name) error {
	rec := p.alarms[name]
	if (rec == nil || (rec.registration == nil && rec.published == nil)) &&
		len(p.engine.overrides.ForAlarm(name)) == 0 {
		return nil
	}

	return p.evaluate(ctx, name, domain.Transitions{}, false)
}

// refresh re-resolves name after its class changed.
func (p *partition) refresh(ctx context.Context, name domain.Name) error {
	eff := p.engine.registry.effective(name)
	if eff == nil {
		return nil
	}

	return p.setRegistration(ctx, name, eff)
}

func (p *partition) setRegistration(ctx context.Context, name domain.Name, eff *domain.EffectiveRegistration) error {
	if _, err := p.publishRegistration(name, eff, true); err != nil {
		return err
	}

	return p.evaluate(ctx, name, domain.Transitions{}, true)
}

// publishRegistration publishes eff and reports whether it did. Unless
// always is set, a registration equal to the last published one is skipped.
func (p *partition) publishRegistration(name domain.Name, eff *domain.EffectiveRegistration, always bool) (bool, error) {
	value, err := json.Marshal(eff)
	if err != nil {
		return false, fmt.Errorf("encode effective registration %s: %w", name, err)
	}

	rec := p.record(name)
	rec.registration = eff

	if !always && bytes.Equal(value, rec.publishedRegistration) {
		return false, nil
	}

	err = p.engine.publish(journal.Entry{Topic: TopicEffectiveRegistrations, Key: name, Value: value})
	if err != nil {
		return false, err
	}

	rec.publishedRegistration = value

	return true, nil
}

// remove passes an alarm removal through the stages as a tombstone.
func (p *partition) remove(ctx context.Context, name domain.Name) error {
	rec := p.record(name)
	rec.registration = nil

	return p.pipeline(ctx, rec, &domain.Monolog{Name: name}, false)
}

func (p *partition) applyActivation(ctx context.Context, it item) error {
	rec := p.record(it.name)
	transitions := domain.Detect(rec.activation, it.activation)
	rec.activation = it.activation

	return p.evaluate(ctx, it.name, transitions, false)
}

// reconcile brings the outputs of an alarm in line with its inputs after a
// restart. it.activation is the last accepted activation; the record holds
// what the published outputs were derived from. Work lost with the queues
// shows up as a difference between the two and is redone here.
func (p *partition) reconcile(ctx context.Context, it item) error {
	rec := p.record(it.name)
	eff := p.engine.registry.effective(it.name)

	if eff == nil {
		switch {
		case rec.publishedRegistration != nil:
			rec.activation = it.activation

			return p.remove(ctx, it.name)
		case rec.published == nil:
			rec.activation = it.activation

			return nil
		}
	}

	var force bool

	if eff != nil {
		changed, err := p.publishRegistration(it.name, eff, false)
		if err != nil {
			return err
		}

		force = changed
	}

	transitions := domain.Detect(rec.activation, it.activation)
	rec.activation = it.activation

	return p.evaluate(ctx, it.name, transitions, force)
}

// evaluate builds the monolog of name from the partition memory and the
// live override set and runs it through the stages.
func (p *partition) evaluate(ctx context.Context, name domain.Name, t domain.Transitions, force bool) error {
	rec := p.record(name)

	m := &domain.Monolog{
		Name:         name,
		Registration: rec.registration,
		Notification: &domain.Notification{
			Activation: rec.activation.Clone(),
			Overrides:  p.engine.overrides.ForAlarm(name),
		},
		Transitions: t,
	}

	return p.pipeline(ctx, rec, m, force)
}

func (p *partition) pipeline(ctx context.Context, rec *record, m *domain.Monolog, force bool) error {
	e := p.engine

	stages := []struct {
		name string
		run  func(context.Context, *domain.Monolog) error
	}{
		{"latch", e.latch},
		{"delay", e.delay},
		{"oneshot", e.oneShot},
		{"mask", e.mask},
	}

	for _, stage := range stages {
		if err := stage.run(ctx, m); err != nil {
			return fmt.Errorf("%s stage for %s: %w", stage.name, m.Name, err)
		}
	}

	if err := p.effective(ctx, rec, m, force); err != nil {
		return fmt.Errorf("effective stage for %s: %w", m.Name, err)
	}

	return nil
}
