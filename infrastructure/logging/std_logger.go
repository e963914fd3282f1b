package logging

import "log"

// StdLogger forwards to the standard library logger.
type StdLogger struct{}

func NewStdLogger() *StdLogger {
	return &StdLogger{}
}

func (StdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}

// NopLogger discards everything. Used by tests that don't want log noise.
type NopLogger struct{}

func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (NopLogger) Printf(string, ...any) {}
