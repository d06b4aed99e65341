package processor

import (
	"context"
	"sync"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
)

type itemKind int

const (
	itemActivation itemKind = iota
	itemRegistration
	itemOverride
	itemRefresh
	itemMask
	itemReconcile
)

func (k itemKind) String() string {
	switch k {
	case itemActivation:
		return "activation"
	case itemRegistration:
		return "registration"
	case itemOverride:
		return "override"
	case itemRefresh:
		return "refresh"
	case itemMask:
		return "mask"
	case itemReconcile:
		return "reconcile"
	default:
		return "unknown"
	}
}

// item is one unit of partition work. Which fields are set depends on kind.
type item struct {
	kind itemKind
	name domain.Name

	// activation is the raw input of itemActivation and the last accepted
	// input of itemReconcile.
	activation *domain.Activation

	// parent and parentActive describe the parent transition of itemMask.
	parent       domain.Name
	parentActive bool
}

// queue is an unbounded FIFO. push never blocks, so workers may queue work
// on each other's partitions without deadlocking.
type queue struct {
	mu    sync.Mutex
	items []item
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends it and returns the new queue length.
func (q *queue) push(it item) int {
	q.mu.Lock()
	q.items = append(q.items, it)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return n
}

func (q *queue) tryPop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item{}, false
	}

	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]

	return it, true
}

// pop blocks until an item is available or ctx is done.
func (q *queue) pop(ctx context.Context) (item, error) {
	for {
		if it, ok := q.tryPop(); ok {
			return it, nil
		}

		select {
		case <-ctx.Done():
			return item{}, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
