// Package logging defines the structured logger the engine writes to.
package logging

import (
	"io"
	"log/slog"
)

// Logger takes a message and alternating key/value pairs.
//
//	log.Warn("obsolete step", "step", "Given I log in", "method", "steps.Login")
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// NewSlog adapts a *slog.Logger. A nil logger discards everything.
func NewSlog(l *slog.Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// NewText returns a text-handler logger writing to w.
func NewText(w io.Writer, debug bool) Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Debug(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
