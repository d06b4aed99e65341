package processor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/override"
)

// expiringKinds are the override kinds removed once their expiration passes.
//
//nolint:gochecknoglobals // Closed, read-only enumeration.
var expiringKinds = []domain.Kind{domain.KindShelved, domain.KindOnDelayed, domain.KindOffDelayed}

// ExpirationScheduler periodically removes overrides whose expiration has
// passed.
type ExpirationScheduler struct {
	overrides *override.Store
	interval  time.Duration
	now       func() time.Time
	metrics   *metrics
	onError   func(context.Context, error)
}

// Run schedules Sweep every interval until ctx is done. Intervals below one
// second are rounded up by the cron scheduler.
func (s *ExpirationScheduler) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "expiration")

	l := newCronLogger(ctx)
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.onError(ctx, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule expiration sweep: %w", err)
	}

	c.Start()
	logger.InfoKV(ctx, "Expiration scheduler started", "interval", s.interval)

	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

// Sweep removes every expiring override with an expiration at or before
// now and returns how many were removed. Each removal re-checks the live
// record, so an override replaced or removed since the scan is left alone.
func (s *ExpirationScheduler) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	expired := func(o *domain.Override) bool {
		exp, ok := o.Expiration()

		return ok && !exp.After(now)
	}

	var due []domain.OverrideKey

	s.overrides.Scan(func(key domain.OverrideKey, o *domain.Override) bool {
		if slices.Contains(expiringKinds, key.Kind) && expired(o) {
			due = append(due, key)
		}

		return true
	})

	var removed int

	for _, key := range due {
		ok, err := s.overrides.RemoveIf(ctx, key, expired)
		if err != nil {
			return removed, fmt.Errorf("expire %s: %w", key, err)
		}

		if !ok {
			continue
		}

		removed++

		s.metrics.expired.WithLabelValues(string(key.Kind)).Inc()
		logger.InfoKV(ctx, "Override expired", "alarm", key.Name, "kind", key.Kind)
	}

	return removed, nil
}

// cronLogger adapts the context logger to cron.Logger. Routine scheduler
// chatter is dropped below warn level.
type cronLogger struct {
	log *zap.SugaredLogger
}

func newCronLogger(ctx context.Context) cronLogger {
	return cronLogger{
		log: logger.FromContext(ctx).
			Desugar().
			WithOptions(logger.WithLevel(zapcore.WarnLevel)).
			Sugar(),
	}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
