package override

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// Topic is the journal topic holding override records.
const Topic = "alarm-overrides"

//nolint:gochecknoglobals // Stateless codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrKeyMismatch is returned when the record kind differs from the key kind.
	ErrKeyMismatch = errors.New("override kind does not match key")
	// ErrEmptyName is returned for a key without an alarm name.
	ErrEmptyName = errors.New("override key has no alarm name")
)

// Change describes one applied override change.
type Change struct {
	Key domain.OverrideKey
	// Override is the new record, nil when the override was removed.
	Override *domain.Override
	// Offset is the journal offset of the change.
	Offset uint64
}

// Store is the Override Store.
type Store struct {
	journal *journal.Journal

	// mu guards view and serializes journal appends with view updates.
	mu   sync.RWMutex
	view map[domain.Name]domain.OverrideSet

	subsMu      sync.RWMutex
	subscribers []func(context.Context, Change)
}

// Open rebuilds the store from the journal.
func Open(ctx context.Context, j *journal.Journal) (*Store, error) {
	s := &Store{
		journal: j,
		view:    make(map[domain.Name]domain.OverrideSet),
	}

	var count int

	err := j.Table(Topic, func(k string, v []byte) error {
		key, err := decodeKey(k)
		if err != nil {
			logger.WarnKV(ctx, "Skipping override with malformed key", "key", k, "error", err)

			return nil
		}

		var o domain.Override
		if err = json.Unmarshal(v, &o); err != nil || validate(key, &o) != nil {
			logger.WarnKV(ctx, "Skipping malformed override", "key", key.String(), "error", err)

			return nil
		}

		s.apply(key, &o)
		count++

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay overrides: %w", err)
	}

	logger.InfoKV(ctx, "Override store restored", "overrides", count)

	return s, nil
}

// Subscribe registers fn to be called after every applied change.
// Callbacks run on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(context.Context, Change)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.subscribers = append(s.subscribers, fn)
}

// Put upserts the override for key. Last write wins.
func (s *Store) Put(ctx context.Context, key domain.OverrideKey, o *domain.Override) error {
	if err := validate(key, o); err != nil {
		return err
	}

	value, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode override %s: %w", key, err)
	}

	s.mu.Lock()

	offset, err := s.journal.Append(Topic, encodeKey(key), value)
	if err != nil {
		s.mu.Unlock()

		return fmt.Errorf("put override %s: %w", key, err)
	}

	s.apply(key, o.Clone())
	s.mu.Unlock()

	logger.DebugKV(ctx, "Override set", "key", key.String(), "offset", offset)
	s.notify(ctx, Change{Key: key, Override: o.Clone(), Offset: offset})

	return nil
}

// Remove tombstones the override for key. Removing an absent override is a
// no-op and reports false.
func (s *Store) Remove(ctx context.Context, key domain.OverrideKey) (bool, error) {
	return s.RemoveIf(ctx, key, func(*domain.Override) bool { return true })
}

// RemoveIf tombstones the override for key only if it is present and pred
// accepts the current record. The check and the removal are atomic with
// respect to other writers.
func (s *Store) RemoveIf(ctx context.Context, key domain.OverrideKey, pred func(*domain.Override) bool) (bool, error) {
	if key.Name == "" {
		return false, ErrEmptyName
	}

	s.mu.Lock()

	current := s.view[key.Name][key.Kind]
	if current == nil || !pred(current.Clone()) {
		s.mu.Unlock()

		return false, nil
	}

	offset, err := s.journal.Append(Topic, encodeKey(key), nil)
	if err != nil {
		s.mu.Unlock()

		return false, fmt.Errorf("remove override %s: %w", key, err)
	}

	s.apply(key, nil)
	s.mu.Unlock()

	logger.DebugKV(ctx, "Override removed", "key", key.String(), "offset", offset)
	s.notify(ctx, Change{Key: key, Offset: offset})

	return true, nil
}

// Get returns a copy of the override for key, or nil.
func (s *Store) Get(key domain.OverrideKey) *domain.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.view[key.Name][key.Kind].Clone()
}

// ForAlarm returns a copy of every active override of name.
func (s *Store) ForAlarm(name domain.Name) domain.OverrideSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.view[name].Clone()
}

// Scan calls fn for every active override until fn returns false. It works
// on a copy taken under a short read lock, so writers are not held up for
// the duration of the scan and fn may call back into the store.
func (s *Store) Scan(fn func(domain.OverrideKey, *domain.Override) bool) {
	s.mu.RLock()

	snapshot := make(map[domain.Name]domain.OverrideSet, len(s.view))
	for name, set := range s.view {
		snapshot[name] = set.Clone()
	}

	s.mu.RUnlock()

	for name, set := range snapshot {
		for kind, o := range set {
			if !fn(domain.OverrideKey{Name: name, Kind: kind}, o) {
				return
			}
		}
	}
}

// Len returns the number of active overrides.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, set := range s.view {
		n += len(set)
	}

	return n
}

// apply updates the view. Callers hold mu.
func (s *Store) apply(key domain.OverrideKey, o *domain.Override) {
	set := s.view[key.Name]

	if o == nil {
		delete(set, key.Kind)

		if len(set) == 0 {
			delete(s.view, key.Name)
		}

		return
	}

	if set == nil {
		set = make(domain.OverrideSet)
		s.view[key.Name] = set
	}

	set[key.Kind] = o
}

func (s *Store) notify(ctx context.Context, c Change) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for _, fn := range s.subscribers {
		fn(ctx, c)
	}
}

func validate(key domain.OverrideKey, o *domain.Override) error {
	if key.Name == "" {
		return ErrEmptyName
	}

	if o == nil || o.Kind != key.Kind {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, key)
	}

	return o.Validate()
}

// encodeKey puts the kind first because alarm names may contain slashes.
func encodeKey(key domain.OverrideKey) string {
	return string(key.Kind) + "/" + key.Name
}

func decodeKey(s string) (domain.OverrideKey, error) {
	kind, name, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return domain.OverrideKey{}, fmt.Errorf("%w: %q", ErrEmptyName, s)
	}

	k, err := domain.ParseKind(kind)
	if err != nil {
		return domain.OverrideKey{}, err
	}

	return domain.OverrideKey{Name: name, Kind: k}, nil
}
