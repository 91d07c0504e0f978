package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	// LevelError represents error level messages
	LevelError LogLevel = 0
	// LevelWarn represents warning level messages
	LevelWarn LogLevel = 1
	// LevelInfo represents informational messages
	LevelInfo LogLevel = 2
	// LevelDebug represents debug messages
	LevelDebug LogLevel = 3
	// LevelTrace represents trace messages with high detail
	LevelTrace LogLevel = 4
)

// String converts a LogLevel to a string representation
func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "ERR"
	case LevelWarn:
		return "WRN"
	case LevelInfo:
		return "INF"
	case LevelDebug:
		return "DBG"
	case LevelTrace:
		return "TRA"
	default:
		return "???"
	}
}

// ParseLevel converts a level name (error, warn, info, debug, trace) to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch name {
	case "error", "ERR":
		return LevelError, nil
	case "warn", "warning", "WRN":
		return LevelWarn, nil
	case "info", "INF":
		return LevelInfo, nil
	case "debug", "DBG":
		return LevelDebug, nil
	case "trace", "TRA":
		return LevelTrace, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorError = "\033[31m"
	colorWarn  = "\033[33m"
	colorInfo  = "\033[37m"
	colorDebug = "\033[34m"
	colorTrace = "\033[35m"
)

// PlaneLogger is a console logger with color support and log levels
type PlaneLogger struct {
	level        atomic.Int32               // log level
	useColors    bool                       // whether to use colors in output
	storeLastMsg bool                       // whether to store the last message
	lastMsg      atomic.Pointer[LogMessage] // last message printed

	out   io.Writer
	outMu *sync.Mutex
}

// LogMessage stores information about a log message
type LogMessage struct {
	Level   LogLevel
	Channel string
	Message string
	Fields  Fields
	Time    time.Time
}

// NewPlaneLogger creates a new stdout logger with the specified log level
func NewPlaneLogger(level LogLevel, storeLastMessage bool) Logger {
	useColors := false
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		useColors = (fileInfo.Mode() & os.ModeCharDevice) != 0
	}

	return newPlaneLogger(os.Stdout, level, storeLastMessage, useColors)
}

// NewPlaneLoggerTo creates a colorless logger writing into w
func NewPlaneLoggerTo(w io.Writer, level LogLevel, storeLastMessage bool) Logger {
	return newPlaneLogger(w, level, storeLastMessage, false)
}

func newPlaneLogger(w io.Writer, level LogLevel, storeLastMessage bool, useColors bool) *PlaneLogger {
	logger := &PlaneLogger{
		useColors:    useColors,
		storeLastMsg: storeLastMessage,
		out:          w,
		outMu:        &sync.Mutex{},
	}
	logger.level.Store(int32(level))
	return logger
}

// GetLevel returns the current log level
func (l *PlaneLogger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

// SetLevel sets the log level
func (l *PlaneLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *PlaneLogger) levelToColor(level LogLevel) string {
	if !l.useColors {
		return ""
	}

	switch level {
	case LevelError:
		return colorError
	case LevelWarn:
		return colorWarn
	case LevelInfo:
		return colorInfo
	case LevelDebug:
		return colorDebug
	case LevelTrace:
		return colorTrace
	default:
		return ""
	}
}

func (l *PlaneLogger) print(msg *LogMessage) {
	if l.GetLevel() < msg.Level {
		return
	}

	prefix := fmt.Sprintf("%s  %s:", msg.Time.Format("2006-01-02 15:04:05.000000"), msg.Level.String())
	if msg.Channel != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, msg.Channel)
	}

	text := msg.Message
	if len(msg.Fields) != 0 {
		if text != "" {
			text += " "
		}
		text += msg.Fields.String()
	}

	color := l.levelToColor(msg.Level)
	resetColor := ""
	if color != "" {
		resetColor = colorReset
	}

	l.outMu.Lock()
	fmt.Fprintf(l.out, "%s%s %s%s\n", color, prefix, text, resetColor)
	l.outMu.Unlock()

	if l.storeLastMsg {
		l.lastMsg.Store(msg)
	}
}

// Log implements the logger.Logger interface
func (l *PlaneLogger) Log(level LogLevel, message string, args ...interface{}) {
	if len(args) != 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.print(&LogMessage{Level: level, Message: message, Time: time.Now()})
}

// Record prints a structured record prefixed with its channel
func (l *PlaneLogger) Record(level LogLevel, channel string, fields Fields) {
	l.print(&LogMessage{Level: level, Channel: channel, Fields: fields, Time: time.Now()})
}

// Error logs an error message
func (l *PlaneLogger) Error(format string, args ...interface{}) {
	l.Log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *PlaneLogger) Warn(format string, args ...interface{}) {
	l.Log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *PlaneLogger) Info(format string, args ...interface{}) {
	l.Log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *PlaneLogger) Debug(format string, args ...interface{}) {
	l.Log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *PlaneLogger) Trace(format string, args ...interface{}) {
	l.Log(LevelTrace, format, args...)
}

// GetLastMessage returns the last logged message if storage is enabled
func (l *PlaneLogger) GetLastMessage() *LogMessage {
	if !l.storeLastMsg {
		return nil
	}

	return l.lastMsg.Load()
}

func (l *PlaneLogger) Clone() Logger {
	clone := newPlaneLogger(l.out, l.GetLevel(), l.storeLastMsg, l.useColors)
	clone.outMu = l.outMu
	return clone
}
