// Package logger provides the leveled loggers used by pooldb and its tools.
//
// Besides printf-style messages every logger accepts structured records: a
// channel name (for example "db.query") plus a set of fields.
package logger

import (
	"fmt"
	"sort"
	"strings"
)

// Fields holds the payload of a structured record
type Fields map[string]interface{}

type Logger interface {
	Log(level LogLevel, message string, args ...interface{})
	Error(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Info(format string, args ...interface{})
	Debug(format string, args ...interface{})
	Trace(format string, args ...interface{})

	// Record emits one structured record on the given channel
	Record(level LogLevel, channel string, fields Fields)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	GetLastMessage() *LogMessage
	Clone() Logger
}

// String renders fields as space separated key=value pairs in key order
func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		switch v := f[k].(type) {
		case string:
			sb.WriteString(fmt.Sprintf("%q", v))
		default:
			sb.WriteString(fmt.Sprintf("%v", v))
		}
	}

	return sb.String()
}
