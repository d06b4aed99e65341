package processor

import (
	"context"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/mask"
)

// mask forwards a parent transition to every child the parent masks. The
// cascade itself runs on each child's partition.
func (e *Engine) mask(_ context.Context, m *domain.Monolog) error {
	if m.Removed() || (!m.Transitions.ToActive && !m.Transitions.ToNormal) {
		return nil
	}

	for _, child := range e.registry.childrenOf(m.Name) {
		e.enqueue(item{
			kind:         itemMask,
			name:         child,
			parent:       m.Name,
			parentActive: m.Transitions.ToActive,
		})
	}

	return nil
}

// cascade keeps the Masked override of child in step with its parent. The
// masking state makes it monotonic: one put per masking episode and one
// remove when the masking parent returns to normal, however often the
// parent repeats itself.
func (e *Engine) cascade(ctx context.Context, child, parent domain.Name, parentActive bool) error {
	key := domain.OverrideKey{Name: child, Kind: domain.KindMasked}

	if parentActive {
		if _, ok := e.masks.Masking(child); ok {
			return nil
		}

		if e.overrides.Get(key) != nil {
			return nil
		}

		if err := e.masks.Set(child, mask.State{Parent: parent, Since: e.now()}); err != nil {
			return err
		}

		if err := e.overrides.Put(ctx, key, domain.Masked()); err != nil {
			return err
		}

		e.metrics.overrideOps.WithLabelValues("mask", string(domain.KindMasked), "put").Inc()
		logger.DebugKV(ctx, "Alarm masked", "alarm", child, "parent", parent)

		return nil
	}

	state, ok := e.masks.Masking(child)
	if !ok || state.Parent != parent {
		return nil
	}

	// The override goes first: a state left behind by a crash is cleared by
	// the restart reconciliation, a stranded override would not be.
	removed, err := e.overrides.Remove(ctx, key)
	if err != nil {
		return err
	}

	if _, err = e.masks.Clear(child); err != nil {
		return err
	}

	if removed {
		e.metrics.overrideOps.WithLabelValues("mask", string(domain.KindMasked), "remove").Inc()
		logger.DebugKV(ctx, "Alarm unmasked", "alarm", child, "parent", parent)
	}

	return nil
}
