package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// leveledCore raises the minimum level of a wrapped core.
type leveledCore struct {
	zapcore.Core

	min zapcore.Level
}

// Enabled reports whether lvl passes both the floor and the wrapped core.
func (c *leveledCore) Enabled(lvl zapcore.Level) bool {
	return c.min.Enabled(lvl) && c.Core.Enabled(lvl)
}

// Check adds the core to the entry when the entry level is enabled.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *leveledCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With keeps the floor on derived cores.
//
//nolint:ireturn,nolintlint // zapcore.Core is the zap contract.
func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{
		Core: c.Core.With(fields),
		min:  c.min,
	}
}

// WithLevel returns an option that drops entries below lvl. Used to quiet
// chatty third-party components such as the cron scheduler.
//
//nolint:ireturn,nolintlint // zap.Option is the zap contract.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &leveledCore{Core: core, min: lvl}
	})
}
