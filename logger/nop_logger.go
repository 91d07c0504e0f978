package logger

import (
	"sync/atomic"
)

// NopLogger drops everything. It is the default when no logger is configured.
type NopLogger struct {
	level atomic.Int32
}

func NewNopLogger() Logger {
	return &NopLogger{}
}

func (l *NopLogger) Log(LogLevel, string, ...interface{}) {}
func (l *NopLogger) Record(LogLevel, string, Fields) {}
func (l *NopLogger) Error(string, ...interface{}) {}
func (l *NopLogger) Warn(string, ...interface{}) {}
func (l *NopLogger) Info(string, ...interface{}) {}
func (l *NopLogger) Debug(string, ...interface{}) {}
func (l *NopLogger) Trace(string, ...interface{}) {}
func (l *NopLogger) GetLastMessage() *LogMessage { return nil }
func (l *NopLogger) GetLevel() LogLevel { return LogLevel(l.level.Load()) }
func (l *NopLogger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }
func (l *NopLogger) Clone() Logger { return &NopLogger{} }
