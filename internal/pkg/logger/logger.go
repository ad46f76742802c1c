// Package logger emits structured JSON log lines. String field values
// are scrubbed for email addresses before they are written, so the
// dispatch and webhook paths can log recipient context without leaking
// addresses into log storage.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes JSON entries to stderr with optional email redaction.
type Logger struct {
	level     Level
	redactPII bool
	mu        sync.Mutex
}

var std = &Logger{level: INFO, redactPII: true}

// SetLevel sets the minimum severity the default logger emits.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles email scrubbing on the default logger.
func SetRedactPII(on bool) { std.redactPII = on }

// Debug logs at DEBUG level. Fields are alternating key, value pairs.
func Debug(msg string, fields ...any) { std.emit(DEBUG, msg, fields) }

// Info logs at INFO level.
func Info(msg string, fields ...any) { std.emit(INFO, msg, fields) }

// Warn logs at WARN level.
func Warn(msg string, fields ...any) { std.emit(WARN, msg, fields) }

// Error logs at ERROR level.
func Error(msg string, fields ...any) { std.emit(ERROR, msg, fields) }

func (l *Logger) emit(level Level, msg string, fields []any) {
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = scrub(key, val)
		}
		entry[key] = val
	}

	line, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(line))
	l.mu.Unlock()
}
