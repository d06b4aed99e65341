package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// TestRegistry_Indexes checks class membership and the mask index.
func TestRegistry_Indexes(t *testing.T) {
	t.Parallel()

	j, err := journal.OpenMemory()
	require.NoError(t, err)

	t.Cleanup(func() { _ = j.Close() })

	r := newRegistry(j)

	eff, released, err := r.putRegistration("child1", &domain.Registration{Class: "c", Fields: domain.Fields{MaskedBy: "p1"}})
	require.NoError(t, err)
	require.Equal(t, "p1", eff.MaskedBy())
	require.Empty(t, released)

	_, _, err = r.putRegistration("child2", &domain.Registration{Class: "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"child1"}, r.childrenOf("p1"))

	// The class fills MaskedBy only where the registration leaves it unset.
	members, released, err := r.putClass("c", &domain.Class{Fields: domain.Fields{MaskedBy: "p2"}})
	require.NoError(t, err)
	require.Equal(t, []string{"child1", "child2"}, members)
	require.Empty(t, released)
	require.Equal(t, []string{"child1"}, r.childrenOf("p1"))
	require.Equal(t, []string{"child2"}, r.childrenOf("p2"))
	require.Equal(t, map[string]string{"child1": "p1", "child2": "p2"}, r.maskEdges())

	// Self-masking is ignored.
	_, _, err = r.putRegistration("p2", &domain.Registration{Fields: domain.Fields{MaskedBy: "p2"}})
	require.NoError(t, err)
	require.Equal(t, []string{"child2"}, r.childrenOf("p2"))

	// Moving a child to another parent releases the old edge.
	_, released, err = r.putClass("c", &domain.Class{Fields: domain.Fields{MaskedBy: "p3"}})
	require.NoError(t, err)
	require.Equal(t, []maskEdge{{child: "child2", parent: "p2"}}, released)
	require.Equal(t, []string{"child2"}, r.childrenOf("p3"))

	eff, released, err = r.putRegistration("child2", nil)
	require.NoError(t, err)
	require.Nil(t, eff)
	require.Equal(t, []maskEdge{{child: "child2", parent: "p3"}}, released)
	require.Empty(t, r.childrenOf("p3"))
	require.Nil(t, r.effective("child2"))

	members, _, err = r.putClass("c", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"child1"}, members)

	restored := newRegistry(j)
	require.NoError(t, restored.restore(context.Background()))
	require.Equal(t, []string{"child1", "p2"}, restored.names())
	require.Equal(t, []string{"child1"}, restored.childrenOf("p1"))
	require.Nil(t, restored.effective("child1").Class)
}
