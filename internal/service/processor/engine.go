package processor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
	"github.com/oshokin/alarm-processor/internal/repository/mask"
	"github.com/oshokin/alarm-processor/internal/repository/override"
)

// Journal topics written by the engine. Input tables are compacted views of
// the last accepted input per key; the effective topics are the outputs.
const (
	TopicClasses                = "alarm-classes"
	TopicRegistrations          = "alarm-registrations"
	TopicActivations            = "alarm-activations"
	TopicEffectiveRegistrations = "effective-registrations"
	TopicEffectiveNotifications = "effective-notifications"
	TopicEffectiveAlarms        = "effective-alarms"
)

//nolint:gochecknoglobals // Stateless codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine owns the partitions, the stores and the expiration scheduler.
type Engine struct {
	journal    *journal.Journal
	overrides  *override.Store
	masks      *mask.Store
	registry   *registry
	partitions []*partition
	metrics    *metrics

	now                func() time.Time
	expirationInterval time.Duration
	onFatal            func(error)

	// intake orders journaled activations with their queue items.
	intake sync.Mutex

	fatal    chan error
	failOnce sync.Once
}

// Option configures the engine.
type Option func(*Engine)

// WithPartitions sets the number of partition workers.
func WithPartitions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.partitions = make([]*partition, n)
		}
	}
}

// WithClock replaces the wall clock used for delays, masking and expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithExpirationInterval sets the period of the expiration sweep.
func WithExpirationInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.expirationInterval = d
		}
	}
}

// WithFatalHook registers fn to be called once on the first fatal error.
func WithFatalHook(fn func(error)) Option {
	return func(e *Engine) {
		e.onFatal = fn
	}
}

// New restores the engine state from j. The journal stays owned by the caller.
func New(ctx context.Context, j *journal.Journal, options ...Option) (*Engine, error) {
	ctx = logger.WithName(ctx, "engine")

	e := &Engine{
		journal:            j,
		registry:           newRegistry(j),
		partitions:         make([]*partition, 1),
		metrics:            newMetrics(),
		now:                time.Now,
		expirationInterval: time.Second,
		onFatal:            func(error) {},
		fatal:              make(chan error, 1),
	}

	for _, option := range options {
		option(e)
	}

	for i := range e.partitions {
		e.partitions[i] = newPartition(i, e)
	}

	var err error

	if e.overrides, err = override.Open(ctx, j); err != nil {
		return nil, err
	}

	if e.masks, err = mask.Open(ctx, j); err != nil {
		return nil, err
	}

	if err = e.registry.restore(ctx); err != nil {
		return nil, err
	}

	if err = e.restore(ctx); err != nil {
		return nil, err
	}

	e.overrides.Subscribe(func(_ context.Context, c override.Change) {
		e.enqueue(item{kind: itemOverride, name: c.Key.Name})
	})

	logger.InfoKV(ctx, "Engine ready", "partitions", len(e.partitions))

	return e, nil
}

// restore loads the per-alarm memory owned by the partitions and queues the
// reconciliation of every known alarm.
//
// The memory is what the published outputs were derived from, so the
// activation memory comes from the last published notification. The
// activation table holds the last accepted input; the two differ when a
// crash lost queued work.
func (e *Engine) restore(ctx context.Context) error {
	for _, name := range e.registry.names() {
		e.partitionOf(name).record(name).registration = e.registry.effective(name)
	}

	err := e.journal.Table(TopicEffectiveRegistrations, func(name string, v []byte) error {
		e.partitionOf(name).record(name).publishedRegistration = v

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay effective registrations: %w", err)
	}

	err = e.journal.Table(TopicEffectiveNotifications, func(name string, v []byte) error {
		rec := e.partitionOf(name).record(name)
		rec.published = v

		var n domain.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			logger.WarnKV(ctx, "Skipping malformed notification", "alarm", name, "error", err)

			return nil
		}

		rec.activation = n.Activation

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay notifications: %w", err)
	}

	inputs := make(map[domain.Name]*domain.Activation)

	err = e.journal.Table(TopicActivations, func(name string, v []byte) error {
		var a domain.Activation
		if err := json.Unmarshal(v, &a); err != nil {
			logger.WarnKV(ctx, "Skipping malformed activation", "alarm", name, "error", err)

			return nil
		}

		inputs[name] = &a
		e.partitionOf(name).record(name)

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay activations: %w", err)
	}

	var names []domain.Name
	for _, p := range e.partitions {
		names = append(names, slices.Collect(maps.Keys(p.alarms))...)
	}

	slices.Sort(names)

	for _, name := range names {
		e.enqueue(item{kind: itemReconcile, name: name, activation: inputs[name]})
	}

	e.reconcileMasks(ctx)

	logger.InfoKV(ctx, "Alarm memory restored", "alarms", len(names))

	return nil
}

// reconcileMasks redoes mask cascades lost with the queues: a child of an
// active parent without masking state is masked, a masking state whose
// parent is no longer its parent or no longer active is released.
func (e *Engine) reconcileMasks(ctx context.Context) {
	active := func(name domain.Name) bool {
		rec := e.partitionOf(name).alarms[name]

		return rec != nil && rec.activation != nil
	}

	edges := e.registry.maskEdges()

	for _, child := range slices.Sorted(maps.Keys(edges)) {
		parent := edges[child]

		if _, masked := e.masks.Masking(child); !masked && active(parent) {
			logger.DebugKV(ctx, "Requeueing lost mask", "alarm", child, "parent", parent)
			e.enqueue(item{kind: itemMask, name: child, parent: parent, parentActive: true})
		}
	}

	states := e.masks.Scan()

	for _, child := range slices.Sorted(maps.Keys(states)) {
		st := states[child]
		if edges[child] != st.Parent || !active(st.Parent) {
			logger.DebugKV(ctx, "Requeueing lost unmask", "alarm", child, "parent", st.Parent)
			e.enqueue(item{kind: itemMask, name: child, parent: st.Parent, parentActive: false})
		}
	}
}

// PutClass stores a class; nil removes the class. Members are queued for
// re-resolution. A store failure is fatal for the engine and is also
// returned to the caller.
func (e *Engine) PutClass(ctx context.Context, name string, c *domain.Class) error {
	if name == "" {
		return e.Reject(ctx, "class", fmt.Errorf("%w: empty class name", domain.ErrMalformed))
	}

	members, released, err := e.registry.putClass(name, c)
	if err != nil {
		e.fail(ctx, err)

		return err
	}

	logger.InfoKV(ctx, "Class updated", "class", name, "removed", c == nil, "members", len(members))

	for _, member := range members {
		e.enqueue(item{kind: itemRefresh, name: member})
	}

	e.release(ctx, released)

	return nil
}

// PutRegistration stores a registration; nil removes the alarm. A store
// failure is fatal for the engine and is also returned to the caller.
func (e *Engine) PutRegistration(ctx context.Context, name domain.Name, reg *domain.Registration) error {
	if name == "" {
		return e.Reject(ctx, "registration", fmt.Errorf("%w: empty alarm name", domain.ErrMalformed))
	}

	_, released, err := e.registry.putRegistration(name, reg)
	if err != nil {
		e.fail(ctx, err)

		return err
	}

	e.enqueue(item{kind: itemRegistration, name: name})
	e.release(ctx, released)

	return nil
}

// PutActivation journals a raw activation and queues it; nil means the
// condition is normal. A store failure is fatal for the engine and is also
// returned to the caller.
func (e *Engine) PutActivation(ctx context.Context, name domain.Name, a *domain.Activation) error {
	if name == "" {
		return e.Reject(ctx, "activation", fmt.Errorf("%w: empty alarm name", domain.ErrMalformed))
	}

	value, err := encodeOrNil(a)
	if err != nil {
		return e.Reject(ctx, "activation", fmt.Errorf("%w: %w", domain.ErrMalformed, err))
	}

	e.intake.Lock()
	defer e.intake.Unlock()

	if _, err = e.journal.Append(TopicActivations, name, value); err != nil {
		err = fmt.Errorf("put activation %s: %w", name, err)
		e.fail(ctx, err)

		return err
	}

	e.enqueue(item{kind: itemActivation, name: name, activation: a.Clone()})

	return nil
}

// release queues the unmasking of children whose masking edge was dropped.
// A child no longer masked by that parent is left alone by the cascade.
func (e *Engine) release(ctx context.Context, released []maskEdge) {
	for _, edge := range released {
		logger.DebugKV(ctx, "Mask edge dropped", "alarm", edge.child, "parent", edge.parent)
		e.enqueue(item{kind: itemMask, name: edge.child, parent: edge.parent, parentActive: false})
	}
}

// PutOverride writes an operator override; nil removes it. A store failure
// is fatal for the engine and is also returned to the caller.
func (e *Engine) PutOverride(ctx context.Context, key domain.OverrideKey, o *domain.Override) error {
	if key.Name == "" {
		return e.Reject(ctx, "override", fmt.Errorf("%w: empty alarm name", domain.ErrMalformed))
	}

	if _, err := domain.ParseKind(string(key.Kind)); err != nil {
		return e.Reject(ctx, "override", fmt.Errorf("%w: %w", domain.ErrMalformed, err))
	}

	if o == nil {
		if _, err := e.overrides.Remove(ctx, key); err != nil {
			e.fail(ctx, err)

			return err
		}

		return nil
	}

	if o.Kind != key.Kind {
		return e.Reject(ctx, "override", fmt.Errorf("%w: %w", domain.ErrMalformed, override.ErrKeyMismatch))
	}

	if err := o.Validate(); err != nil {
		return e.Reject(ctx, "override", fmt.Errorf("%w: %w", domain.ErrMalformed, err))
	}

	if err := e.overrides.Put(ctx, key, o); err != nil {
		e.fail(ctx, err)

		return err
	}

	return nil
}

// Alarm returns the last published effective alarm.
func (e *Engine) Alarm(name domain.Name) (*domain.EffectiveAlarm, error) {
	value, err := e.journal.Get(TopicEffectiveAlarms, name)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}

	if err != nil {
		return nil, err
	}

	var alarm domain.EffectiveAlarm
	if err = json.Unmarshal(value, &alarm); err != nil {
		return nil, fmt.Errorf("decode effective alarm %s: %w", name, err)
	}

	return &alarm, nil
}

// Overrides returns the overrides currently active for name.
func (e *Engine) Overrides(name domain.Name) domain.OverrideSet {
	return e.overrides.ForAlarm(name)
}

// MetricsHandler serves the engine's private metrics registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.handler()
}

// Run starts the partition workers and the expiration scheduler and blocks
// until ctx is canceled or a fatal error occurs.
func (e *Engine) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "engine")

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range e.partitions {
		g.Go(func() error {
			return p.run(gctx)
		})
	}

	scheduler := e.expirationScheduler()

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-e.fatal:
			return err
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}

	logger.Info(ctx, "Engine stopped")

	return nil
}

func (e *Engine) expirationScheduler() *ExpirationScheduler {
	return &ExpirationScheduler{
		overrides: e.overrides,
		interval:  e.expirationInterval,
		now:       e.now,
		metrics:   e.metrics,
		onError:   e.fail,
	}
}

func (e *Engine) partitionOf(name domain.Name) *partition {
	return e.partitions[murmur3.Sum32([]byte(name))%uint32(len(e.partitions))] //nolint:gosec // len is small.
}

func (e *Engine) enqueue(it item) {
	p := e.partitionOf(it.name)
	n := p.queue.push(it)
	e.metrics.queueSize.WithLabelValues(strconv.Itoa(p.id)).Set(float64(n))
}

// fail records the first fatal error and wakes Run.
func (e *Engine) fail(ctx context.Context, err error) {
	e.failOnce.Do(func() {
		logger.ErrorKV(ctx, "Fatal store error", "error", err)
		e.metrics.fatal.Inc()
		e.onFatal(err)

		e.fatal <- err
	})
}

// Reject counts and logs a malformed input record and returns err.
func (e *Engine) Reject(ctx context.Context, source string, err error) error {
	e.metrics.malformed.WithLabelValues(source).Inc()
	logger.WarnKV(ctx, "Malformed record skipped", "source", source, "error", err)

	return err
}

// publish appends entries in one atomic batch; a nil value writes a
// tombstone.
func (e *Engine) publish(entries ...journal.Entry) error {
	if _, err := e.journal.AppendBatch(entries...); err != nil {
		return fmt.Errorf("publish %s/%s: %w", entries[0].Topic, entries[0].Key, err)
	}

	for _, entry := range entries {
		e.metrics.published.WithLabelValues(entry.Topic).Inc()
	}

	return nil
}

func encodeOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}
