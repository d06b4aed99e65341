package processor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// maskEdge is a child to parent masking relation.
type maskEdge struct {
	child  domain.Name
	parent domain.Name
}

// registry is the Registration Resolver state: the class table, the
// registration table and the indexes derived from them.
type registry struct {
	journal *journal.Journal

	mu            sync.RWMutex
	classes       map[string]*domain.Class
	registrations map[domain.Name]*domain.Registration
	// members maps a class name to the alarms registered with it.
	members map[string]map[domain.Name]struct{}
	// children maps a parent alarm to the alarms it masks.
	children map[domain.Name]map[domain.Name]struct{}
	// parents is the reverse of children.
	parents map[domain.Name]domain.Name
}

func newRegistry(j *journal.Journal) *registry {
	return &registry{
		journal:       j,
		classes:       make(map[string]*domain.Class),
		registrations: make(map[domain.Name]*domain.Registration),
		members:       make(map[string]map[domain.Name]struct{}),
		children:      make(map[domain.Name]map[domain.Name]struct{}),
		parents:       make(map[domain.Name]domain.Name),
	}
}

// restore loads both tables from the journal and rebuilds the indexes.
func (r *registry) restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.journal.Table(TopicClasses, func(name string, v []byte) error {
		var c domain.Class
		if err := json.Unmarshal(v, &c); err != nil {
			logger.WarnKV(ctx, "Skipping malformed class", "class", name, "error", err)

			return nil
		}

		r.classes[name] = &c

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay classes: %w", err)
	}

	err = r.journal.Table(TopicRegistrations, func(name string, v []byte) error {
		var reg domain.Registration
		if err := json.Unmarshal(v, &reg); err != nil {
			logger.WarnKV(ctx, "Skipping malformed registration", "alarm", name, "error", err)

			return nil
		}

		r.registrations[name] = &reg
		r.addMember(reg.Class, name)

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay registrations: %w", err)
	}

	for name := range r.registrations {
		r.reindex(name, nil)
	}

	logger.InfoKV(ctx, "Registrations restored",
		"classes", len(r.classes),
		"registrations", len(r.registrations))

	return nil
}

// putClass stores c (nil removes the class). It returns the alarms whose
// effective registration must be recomputed and the masking edges the
// change dropped.
func (r *registry) putClass(name string, c *domain.Class) ([]domain.Name, []maskEdge, error) {
	value, err := encodeOrNil(c)
	if err != nil {
		return nil, nil, fmt.Errorf("encode class %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err = r.journal.Append(TopicClasses, name, value); err != nil {
		return nil, nil, fmt.Errorf("put class %s: %w", name, err)
	}

	if c == nil {
		delete(r.classes, name)
	} else {
		r.classes[name] = c.Clone()
	}

	var released []maskEdge

	members := slices.Sorted(maps.Keys(r.members[name]))
	for _, m := range members {
		r.reindex(m, &released)
	}

	return members, released, nil
}

// putRegistration stores reg (nil removes the alarm). It returns the new
// effective registration, nil on removal, and the masking edge the change
// dropped, if any.
func (r *registry) putRegistration(
	name domain.Name,
	reg *domain.Registration,
) (*domain.EffectiveRegistration, []maskEdge, error) {
	value, err := encodeOrNil(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("encode registration %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err = r.journal.Append(TopicRegistrations, name, value); err != nil {
		return nil, nil, fmt.Errorf("put registration %s: %w", name, err)
	}

	if old := r.registrations[name]; old != nil {
		r.removeMember(old.Class, name)
	}

	var released []maskEdge

	if reg == nil {
		delete(r.registrations, name)
		r.setParent(name, "", &released)

		return nil, released, nil
	}

	r.registrations[name] = reg.Clone()
	r.addMember(reg.Class, name)

	return r.reindex(name, &released), released, nil
}

// effective resolves the current registration of name, nil if unregistered.
func (r *registry) effective(name domain.Name) *domain.EffectiveRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg := r.registrations[name]
	if reg == nil {
		return nil
	}

	return domain.NewEffectiveRegistration(reg, r.classes[reg.Class])
}

// childrenOf returns the alarms masked by parent, sorted.
func (r *registry) childrenOf(parent domain.Name) []domain.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.children[parent]))
}

// names returns every registered alarm.
func (r *registry) names() []domain.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.registrations))
}

// maskEdges returns a copy of the child to parent index.
func (r *registry) maskEdges() map[domain.Name]domain.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.parents)
}

// reindex resolves name and updates the parent index, appending a dropped
// edge to released when it is non-nil. Callers hold mu.
func (r *registry) reindex(name domain.Name, released *[]maskEdge) *domain.EffectiveRegistration {
	reg := r.registrations[name]
	if reg == nil {
		r.setParent(name, "", released)

		return nil
	}

	eff := domain.NewEffectiveRegistration(reg, r.classes[reg.Class])
	r.setParent(name, eff.MaskedBy(), released)

	return eff
}

func (r *registry) setParent(child, parent domain.Name, released *[]maskEdge) {
	if old, ok := r.parents[child]; ok {
		if old == parent {
			return
		}

		delete(r.children[old], child)

		if len(r.children[old]) == 0 {
			delete(r.children, old)
		}

		delete(r.parents, child)

		if released != nil {
			*released = append(*released, maskEdge{child: child, parent: old})
		}
	}

	if parent == "" || parent == child {
		return
	}

	if r.children[parent] == nil {
		r.children[parent] = make(map[domain.Name]struct{})
	}

	r.children[parent][child] = struct{}{}
	r.parents[child] = parent
}

func (r *registry) addMember(class string, name domain.Name) {
	if class == "" {
		return
	}

	if r.members[class] == nil {
		r.members[class] = make(map[domain.Name]struct{})
	}

	r.members[class][name] = struct{}{}
}

func (r *registry) removeMember(class string, name domain.Name) {
	delete(r.members[class], name)

	if len(r.members[class]) == 0 {
		delete(r.members, class)
	}
}
