package override

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

func newStore(t *testing.T) (*Store, *journal.Journal) {
	t.Helper()

	j, err := journal.OpenMemory()
	require.NoError(t, err)

	t.Cleanup(func() { _ = j.Close() })

	s, err := Open(context.Background(), j)
	require.NoError(t, err)

	return s, j
}

func keyOf(name string, kind domain.Kind) domain.OverrideKey {
	return domain.OverrideKey{Name: name, Kind: kind}
}

// TestPutGetRemove checks basic upsert and tombstone semantics.
func TestPutGetRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Put(ctx, keyOf("alarm1", domain.KindMasked), domain.Masked()))
	require.NoError(t, s.Put(ctx, keyOf("alarm1", domain.KindDisabled), domain.Disabled("maintenance")))

	got := s.Get(keyOf("alarm1", domain.KindDisabled))
	require.NotNil(t, got)
	require.Equal(t, "maintenance", got.Disabled.Comment)

	set := s.ForAlarm("alarm1")
	require.True(t, set.Has(domain.KindMasked))
	require.True(t, set.Has(domain.KindDisabled))
	require.Equal(t, 2, s.Len())

	removed, err := s.Remove(ctx, keyOf("alarm1", domain.KindMasked))
	require.NoError(t, err)
	require.True(t, removed)
	require.Nil(t, s.Get(keyOf("alarm1", domain.KindMasked)))

	// Removing again is a no-op.
	removed, err = s.Remove(ctx, keyOf("alarm1", domain.KindMasked))
	require.NoError(t, err)
	require.False(t, removed)
}

// TestPut_Validation rejects records that do not match their key.
func TestPut_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore(t)

	require.ErrorIs(t, s.Put(ctx, keyOf("alarm1", domain.KindShelved), domain.Masked()), ErrKeyMismatch)
	require.ErrorIs(t, s.Put(ctx, keyOf("", domain.KindMasked), domain.Masked()), ErrEmptyName)
	require.ErrorIs(t,
		s.Put(ctx, keyOf("alarm1", domain.KindShelved), &domain.Override{Kind: domain.KindShelved}),
		domain.ErrPayloadMismatch)
	require.Zero(t, s.Len())
}

// TestGet_ReturnsCopy checks that callers cannot mutate the view.
func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Put(ctx, keyOf("alarm1", domain.KindDisabled), domain.Disabled("a")))

	got := s.Get(keyOf("alarm1", domain.KindDisabled))
	got.Disabled.Comment = "b"

	require.Equal(t, "a", s.Get(keyOf("alarm1", domain.KindDisabled)).Disabled.Comment)
}

// TestRemoveIf checks the conditional removal used by expiration.
func TestRemoveIf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore(t)
	now := time.Now()
	k := keyOf("alarm1", domain.KindShelved)

	require.NoError(t, s.Put(ctx, k, domain.Shelved(domain.ShelvedOverride{Reason: domain.ShelvedReasonOther, Expiration: now.Add(time.Hour)})))

	expired := func(o *domain.Override) bool {
		exp, ok := o.Expiration()
		return ok && !exp.After(now)
	}

	removed, err := s.RemoveIf(ctx, k, expired)
	require.NoError(t, err)
	require.False(t, removed)
	require.NotNil(t, s.Get(k))

	require.NoError(t, s.Put(ctx, k, domain.Shelved(domain.ShelvedOverride{Reason: domain.ShelvedReasonOther, Expiration: now.Add(-time.Second)})))

	removed, err = s.RemoveIf(ctx, k, expired)
	require.NoError(t, err)
	require.True(t, removed)
	require.Nil(t, s.Get(k))
}

// TestSubscribe checks that subscribers see every applied change.
func TestSubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore(t)

	var (
		mu      sync.Mutex
		changes []Change
	)

	s.Subscribe(func(_ context.Context, c Change) {
		mu.Lock()
		defer mu.Unlock()

		changes = append(changes, c)
	})

	k := keyOf("alarm1", domain.KindLatched)

	require.NoError(t, s.Put(ctx, k, domain.Latched()))
	_, err := s.Remove(ctx, k)
	require.NoError(t, err)
	_, err = s.Remove(ctx, k)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, changes, 2)
	require.Equal(t, k, changes[0].Key)
	require.NotNil(t, changes[0].Override)
	require.Nil(t, changes[1].Override)
	require.Greater(t, changes[1].Offset, changes[0].Offset)
}

// TestOpen_Replay checks that a reopened store sees the same overrides and
// skips malformed records.
func TestOpen_Replay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, j := newStore(t)

	require.NoError(t, s.Put(ctx, keyOf("a/b/c", domain.KindFiltered), domain.Filtered("f1")))
	require.NoError(t, s.Put(ctx, keyOf("alarm2", domain.KindMasked), domain.Masked()))
	require.NoError(t, s.Put(ctx, keyOf("alarm3", domain.KindMasked), domain.Masked()))
	_, err := s.Remove(ctx, keyOf("alarm3", domain.KindMasked))
	require.NoError(t, err)

	_, err = j.Append(Topic, "Masked/broken", []byte("{not json"))
	require.NoError(t, err)
	_, err = j.Append(Topic, "Bogus/alarm4", []byte(`{"kind":"Bogus"}`))
	require.NoError(t, err)

	restored, err := Open(ctx, j)
	require.NoError(t, err)
	require.Equal(t, 2, restored.Len())
	require.Equal(t, "f1", restored.Get(keyOf("a/b/c", domain.KindFiltered)).Filtered.FilterName)
	require.True(t, restored.ForAlarm("alarm2").Has(domain.KindMasked))
	require.Empty(t, restored.ForAlarm("alarm3"))
}

// TestScan_AllowsReentry checks that Scan callbacks may write to the store.
func TestScan_AllowsReentry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore(t)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, keyOf(name, domain.KindMasked), domain.Masked()))
	}

	var seen int

	s.Scan(func(k domain.OverrideKey, _ *domain.Override) bool {
		seen++

		_, err := s.Remove(ctx, k)
		require.NoError(t, err)

		return true
	})

	require.Equal(t, 3, seen)
	require.Zero(t, s.Len())
}
