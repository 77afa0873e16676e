// Package logger provides a small leveled logger used for diagnostics that
// are distinct from a job's own output (which goes through internal/sink
// instead).
//
// It is intended for internal use by gitlab-local-pipeline only.
package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is implemented by the logger New returns and by any
// WithFields-derived child.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
	Fatal(format string, v ...any)

	WithFields(fields ...Field) Logger
	SetLevel(level Level)
}

// Field is a single structured key/value pair attached to a logger.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type stdLogger struct {
	mu     *sync.Mutex
	level  *Level
	fields []Field
}

// New returns a logger that writes to stderr.
func New() Logger {
	level := LevelInfo
	return &stdLogger{mu: &sync.Mutex{}, level: &level}
}

func (l *stdLogger) WithFields(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &stdLogger{mu: l.mu, level: l.level, fields: merged}
}

func (l *stdLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

func (l *stdLogger) prefix() string {
	if len(l.fields) == 0 {
		return ""
	}
	s := ""
	for _, f := range l.fields {
		s += fmt.Sprintf("%s=%v ", f.Key, f.Value)
	}
	return s
}

func (l *stdLogger) log(level Level, tag string, c *color.Color, format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < *l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	line := fmt.Sprintf("%s%s %s", l.prefix(), tag, msg)
	fmt.Fprintln(os.Stderr, c.Sprint(line))
}

func (l *stdLogger) Debug(format string, v ...any) { l.log(LevelDebug, "[debug]", color.New(color.FgHiBlack), format, v...) }
func (l *stdLogger) Info(format string, v ...any)  { l.log(LevelInfo, "[info]", color.New(color.FgCyan), format, v...) }
func (l *stdLogger) Warn(format string, v ...any)  { l.log(LevelWarn, "[warn]", color.New(color.FgYellow), format, v...) }
func (l *stdLogger) Error(format string, v ...any) { l.log(LevelError, "[error]", color.New(color.FgRed), format, v...) }

func (l *stdLogger) Fatal(format string, v ...any) {
	l.log(LevelError, "[fatal]", color.New(color.FgRed, color.Bold), format, v...)
	os.Exit(1)
}
