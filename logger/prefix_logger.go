package logger

import (
	"fmt"
)

// PrefixLogger decorates another logger, tagging every message and record
// with a fixed name (a database alias, a worker id).
type PrefixLogger struct {
	next   Logger
	prefix string
}

// NewPrefixLogger wraps next so that every message starts with "<prefix>: "
func NewPrefixLogger(next Logger, prefix string) Logger {
	if next == nil {
		next = NewNopLogger()
	}

	return &PrefixLogger{next: next, prefix: prefix}
}

func (l *PrefixLogger) Log(level LogLevel, message string, args ...interface{}) {
	if len(args) != 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.next.Log(level, fmt.Sprintf("%s: %s", l.prefix, message))
}

// Record adds a "source" field carrying the prefix
func (l *PrefixLogger) Record(level LogLevel, channel string, fields Fields) {
	tagged := make(Fields, len(fields)+1)
	for k, v := range fields {
		tagged[k] = v
	}
	tagged["source"] = l.prefix

	l.next.Record(level, channel, tagged)
}

func (l *PrefixLogger) Error(format string, args ...interface{}) {
	l.Log(LevelError, format, args...)
}

func (l *PrefixLogger) Warn(format string, args ...interface{}) {
	l.Log(LevelWarn, format, args...)
}

func (l *PrefixLogger) Info(format string, args ...interface{}) {
	l.Log(LevelInfo, format, args...)
}

func (l *PrefixLogger) Debug(format string, args ...interface{}) {
	l.Log(LevelDebug, format, args...)
}

func (l *PrefixLogger) Trace(format string, args ...interface{}) {
	l.Log(LevelTrace, format, args...)
}

func (l *PrefixLogger) GetLevel() LogLevel {
	return l.next.GetLevel()
}

func (l *PrefixLogger) SetLevel(level LogLevel) {
	l.next.SetLevel(level)
}

func (l *PrefixLogger) GetLastMessage() *LogMessage {
	return l.next.GetLastMessage()
}

func (l *PrefixLogger) Clone() Logger {
	return NewPrefixLogger(l.next.Clone(), l.prefix)
}
