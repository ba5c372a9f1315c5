package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Logs exposes the entries captured by an observer logger. Tests use it to
// assert on emitted log lines.
type Logs interface {
	Len() int
	All() []observer.LoggedEntry
	TakeAll() []observer.LoggedEntry
}

// NewObserverLogger returns a logger that records every entry at or above
// the given level, along with the captured entries. Unknown levels fall
// back to debug.
func NewObserverLogger(level string) (*ZapLogger, Logs) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		atomicLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	core, logs := observer.New(atomicLevel)

	return &ZapLogger{zap.New(core)}, logs
}
