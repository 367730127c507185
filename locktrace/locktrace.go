// Package locktrace turns lock phases into structured log records.
package locktrace

import (
	"context"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gitlab.com/slon/rwlock/rwlock"
)

// level maps a phase to its log severity: waiting is noise, holding is
// interesting, giving up deserves attention.
func level(p rwlock.Phase) zapcore.Level {
	switch p {
	case rwlock.AskRead, rwlock.AskWrite:
		return zapcore.DebugLevel
	case rwlock.AbandonRead, rwlock.AbandonWrite:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap logs lock phases through a zap logger.
type Zap struct {
	logger *zap.Logger
}

// NewZap creates *Zap writing to logger.
func NewZap(logger *zap.Logger) *Zap {
	return &Zap{logger: logger}
}

// Observe logs p as one entry with the owner, mode and phase fields. Ask
// phases are logged at Debug, abandoned waits at Warn, the rest at Info.
func (z *Zap) Observe(owner string, p rwlock.Phase) {
	if ce := z.logger.Check(level(p), p.String()); ce != nil {
		ce.Write(
			zap.String("owner", owner),
			zap.String("mode", p.Mode()),
			zap.Int("phase", int(p)),
		)
	}
}

// Slog logs lock phases through a log/slog logger.
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates *Slog writing to logger.
func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{logger: logger}
}

// Observe logs p with the same levels and attributes as Zap.Observe.
func (s *Slog) Observe(owner string, p rwlock.Phase) {
	var lvl slog.Level
	switch level(p) {
	case zapcore.DebugLevel:
		lvl = slog.LevelDebug
	case zapcore.WarnLevel:
		lvl = slog.LevelWarn
	default:
		lvl = slog.LevelInfo
	}

	s.logger.LogAttrs(context.Background(), lvl, p.String(),
		slog.String("owner", owner),
		slog.String("mode", p.Mode()),
		slog.Int("phase", int(p)),
	)
}

type multi []rwlock.Observer

func (m multi) Observe(owner string, p rwlock.Phase) {
	for _, o := range m {
		o.Observe(owner, p)
	}
}

// Multi returns an observer that forwards every event to each of obs in
// order. Nil observers are skipped.
func Multi(obs ...rwlock.Observer) rwlock.Observer {
	m := make(multi, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
