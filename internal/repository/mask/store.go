package mask

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// Topic is the journal topic holding mask cascade state.
const Topic = "mask-state"

//nolint:gochecknoglobals // Stateless codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State records that a parent has masked a child.
type State struct {
	Parent domain.Name `json:"parent"`
	Since  time.Time   `json:"since"`
}

// Store maps child alarm names to their masking state.
type Store struct {
	journal *journal.Journal

	mu     sync.RWMutex
	states map[domain.Name]State
}

// Open rebuilds the store from the journal.
func Open(ctx context.Context, j *journal.Journal) (*Store, error) {
	s := &Store{
		journal: j,
		states:  make(map[domain.Name]State),
	}

	err := j.Table(Topic, func(child string, v []byte) error {
		var st State
		if err := json.Unmarshal(v, &st); err != nil {
			logger.WarnKV(ctx, "Skipping malformed mask state", "child", child, "error", err)

			return nil
		}

		s.states[child] = st

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay mask state: %w", err)
	}

	logger.InfoKV(ctx, "Mask state restored", "masked_children", len(s.states))

	return s, nil
}

// Masking returns the masking state of child.
func (s *Store) Masking(child domain.Name) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[child]

	return st, ok
}

// Set records that parent is masking child.
func (s *Store) Set(child domain.Name, st State) error {
	value, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode mask state %s: %w", child, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err = s.journal.Append(Topic, child, value); err != nil {
		return fmt.Errorf("set mask state %s: %w", child, err)
	}

	s.states[child] = st

	return nil
}

// Clear drops the masking state of child. Clearing an unmasked child is a
// no-op and reports false.
func (s *Store) Clear(child domain.Name) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[child]; !ok {
		return false, nil
	}

	if _, err := s.journal.Append(Topic, child, nil); err != nil {
		return false, fmt.Errorf("clear mask state %s: %w", child, err)
	}

	delete(s.states, child)

	return true, nil
}

// Scan returns a snapshot of every masking state keyed by child.
func (s *Store) Scan() map[domain.Name]State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.states)
}

// Len returns the number of masked children.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.states)
}
