// Package logging adapts zap to the core.Logger interface.
package logging

import (
	"go.uber.org/zap"

	"github.com/miladsoleymani/listenmux/core"
)

// ZapLogger implements core.Logger on top of a zap sugared logger.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

var _ core.Logger = (*ZapLogger)(nil)

// NewZap wraps an existing zap logger. A nil logger yields zap.NewNop.
func NewZap(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{base: l, sugar: l.Sugar()}
}

// New builds a production or development zap logger. The returned cleanup
// flushes buffered entries.
func New(isProd bool) (*ZapLogger, func() error, error) {
	var (
		l   *zap.Logger
		err error
	)
	if isProd {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, err
	}

	z := NewZap(l)
	cleanup := func() error { return z.base.Sync() }
	return z, cleanup, nil
}

func (z *ZapLogger) Debug(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

// Named returns a logger with name appended to the logger name.
func (z *ZapLogger) Named(name string) *ZapLogger { return NewZap(z.base.Named(name)) }

// With returns a logger that adds kv to every entry.
func (z *ZapLogger) With(kv ...any) *ZapLogger {
	s := z.sugar.With(kv...)
	return &ZapLogger{base: s.Desugar(), sugar: s}
}

func (z *ZapLogger) Base() *zap.Logger { return z.base }
