package logger

import "github.com/reqguard/reqguard/guardlib"

type noopLogger struct{}

func (n noopLogger) Named(_ string) guardlib.Logger { return n }
func (n noopLogger) BindInt(_ string, _ int) guardlib.Logger { return n }
func (n noopLogger) BindStr(_, _ string) guardlib.Logger { return n }
func (n noopLogger) BindJSON(_, _ string) guardlib.Logger { return n }
func (n noopLogger) Printf(_ string, _ ...interface{}) {}
func (n noopLogger) Info(_ string) {}
func (n noopLogger) Warning(_ string) {}
func (n noopLogger) Debug(_ string) {}
func (n noopLogger) InfoError(_ string, _ error) {}
func (n noopLogger) WarningError(_ string, _ error) {}
func (n noopLogger) DebugError(_ string, _ error) {}

// NewNoopLogger returns a logger which discards everything.
func NewNoopLogger() guardlib.Logger {
	return noopLogger{}
}
