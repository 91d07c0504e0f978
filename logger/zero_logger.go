package logger

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger sends messages and records to a zerolog.Logger as JSON (or
// console) events. Channel records keep their fields as top level keys.
type ZeroLogger struct {
	zl           zerolog.Logger
	level        atomic.Int32
	storeLastMsg bool
	lastMsg      atomic.Pointer[LogMessage]
}

// NewZeroLogger creates a JSON logger writing into w
func NewZeroLogger(w io.Writer, level LogLevel, storeLastMessage bool) Logger {
	return WrapZerolog(zerolog.New(w).With().Timestamp().Logger(), level, storeLastMessage)
}

// NewZeroConsoleLogger creates a human readable zerolog logger
func NewZeroConsoleLogger(w io.Writer, level LogLevel) Logger {
	return WrapZerolog(zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger(), level, false)
}

// WrapZerolog adapts an already configured zerolog.Logger
func WrapZerolog(zl zerolog.Logger, level LogLevel, storeLastMessage bool) Logger {
	l := &ZeroLogger{zl: zl, storeLastMsg: storeLastMessage}
	l.level.Store(int32(level))
	return l
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

func (l *ZeroLogger) enabled(level LogLevel) bool {
	return l.GetLevel() >= level
}

func (l *ZeroLogger) remember(msg *LogMessage) {
	if l.storeLastMsg {
		l.lastMsg.Store(msg)
	}
}

func (l *ZeroLogger) Log(level LogLevel, message string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}
	if len(args) != 0 {
		message = fmt.Sprintf(message, args...)
	}

	l.zl.WithLevel(toZerologLevel(level)).Msg(message)
	l.remember(&LogMessage{Level: level, Message: message, Time: time.Now()})
}

func (l *ZeroLogger) Record(level LogLevel, channel string, fields Fields) {
	if !l.enabled(level) {
		return
	}

	l.zl.WithLevel(toZerologLevel(level)).
		Str("channel", channel).
		Fields(map[string]interface{}(fields)).
		Msg(channel)
	l.remember(&LogMessage{Level: level, Channel: channel, Fields: fields, Time: time.Now()})
}

func (l *ZeroLogger) Error(format string, args ...interface{}) {
	l.Log(LevelError, format, args...)
}

func (l *ZeroLogger) Warn(format string, args ...interface{}) {
	l.Log(LevelWarn, format, args...)
}

func (l *ZeroLogger) Info(format string, args ...interface{}) {
	l.Log(LevelInfo, format, args...)
}

func (l *ZeroLogger) Debug(format string, args ...interface{}) {
	l.Log(LevelDebug, format, args...)
}

func (l *ZeroLogger) Trace(format string, args ...interface{}) {
	l.Log(LevelTrace, format, args...)
}

func (l *ZeroLogger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *ZeroLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *ZeroLogger) GetLastMessage() *LogMessage {
	if !l.storeLastMsg {
		return nil
	}
	return l.lastMsg.Load()
}

func (l *ZeroLogger) Clone() Logger {
	return WrapZerolog(l.zl, l.GetLevel(), l.storeLastMsg)
}
