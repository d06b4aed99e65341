package processor

import (
	"bytes"
	"context"
	"fmt"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// effective renders and publishes the notification of m.
//
// An update flagged as latching is held back. An update without an
// activation edge is published only if it changes the notification, unless
// force is set. A removed alarm is passed through as tombstones.
func (p *partition) effective(ctx context.Context, rec *record, m *domain.Monolog, force bool) error {
	e := p.engine

	if m.Removed() {
		if err := e.publish(
			journal.Entry{Topic: TopicEffectiveRegistrations, Key: m.Name},
			journal.Entry{Topic: TopicEffectiveNotifications, Key: m.Name},
			journal.Entry{Topic: TopicEffectiveAlarms, Key: m.Name},
		); err != nil {
			return err
		}

		rec.published = nil
		rec.publishedRegistration = nil

		logger.InfoKV(ctx, "Alarm removed", "alarm", m.Name)

		return nil
	}

	if m.Transitions.Latching {
		e.metrics.suppressed.Inc()
		logger.DebugKV(ctx, "Update held until latch is confirmed", "alarm", m.Name)

		return nil
	}

	n := m.Notification
	n.State = domain.Render(n.Activation, n.Overrides, m.Registration.Latching())

	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	edge := m.Transitions.ToActive || m.Transitions.ToNormal
	if !edge && !force && bytes.Equal(value, rec.published) {
		e.metrics.unchanged.Inc()

		return nil
	}

	alarm, err := json.Marshal(&domain.EffectiveAlarm{Registration: m.Registration, Notification: n})
	if err != nil {
		return fmt.Errorf("encode effective alarm: %w", err)
	}

	// Both outputs go in one batch so the notification and the alarm view
	// never disagree after a failure.
	if err = e.publish(
		journal.Entry{Topic: TopicEffectiveNotifications, Key: m.Name, Value: value},
		journal.Entry{Topic: TopicEffectiveAlarms, Key: m.Name, Value: alarm},
	); err != nil {
		return err
	}

	rec.published = value

	logger.DebugKV(ctx, "Effective state published",
		"alarm", m.Name,
		"state", n.State,
		"unshelving", m.Transitions.Unshelving)

	return nil
}
