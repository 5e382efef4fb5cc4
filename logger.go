package strata

import apexlog "github.com/apex/log"

// Logger is the logging interface used throughout strata. Components
// never depend on a concrete logging library directly; they depend on
// this interface so tests can inject [NullLogger] and production
// callers can inject a logger backed by any library.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// ApexLogger adapts a [github.com/apex/log.Interface] to [Logger]. Use
// [NewApexLogger] with [apexlog.Log] (or a scoped entry) to get the
// default production logger.
type ApexLogger struct {
	entry apexlog.Interface
}

// NewApexLogger wraps entry as a [Logger]. A nil entry uses the
// package-level apex/log logger.
func NewApexLogger(entry apexlog.Interface) *ApexLogger {
	if entry == nil {
		entry = apexlog.Log
	}
	return &ApexLogger{entry: entry}
}

var _ Logger = &ApexLogger{}

// Debugf implements Logger.
func (al *ApexLogger) Debugf(format string, v ...any) {
	al.entry.Debugf(format, v...)
}

// Debug implements Logger.
func (al *ApexLogger) Debug(message string) {
	al.entry.Debug(message)
}

// Infof implements Logger.
func (al *ApexLogger) Infof(format string, v ...any) {
	al.entry.Infof(format, v...)
}

// Info implements Logger.
func (al *ApexLogger) Info(message string) {
	al.entry.Info(message)
}

// Warnf implements Logger.
func (al *ApexLogger) Warnf(format string, v ...any) {
	al.entry.Warnf(format, v...)
}

// Warn implements Logger.
func (al *ApexLogger) Warn(message string) {
	al.entry.Warn(message)
}

// NullLogger is a [Logger] that discards everything. Tests that don't
// care about log output inject it instead of standing up apex/log.
type NullLogger struct{}

var _ Logger = &NullLogger{}

func (nl *NullLogger) Debugf(format string, v ...any) {}
func (nl *NullLogger) Debug(message string)           {}
func (nl *NullLogger) Infof(format string, v ...any)  {}
func (nl *NullLogger) Info(message string)            {}
func (nl *NullLogger) Warnf(format string, v ...any)  {}
func (nl *NullLogger) Warn(message string)            {}
