// SPDX-License-Identifier: MIT
// Package log is the process-wide leveled logger. The level is a single
// atomic value so a check costs one load; component loggers share it and only
// add a prefix. Nothing here may be called from the real-time ingest path.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel orders message severities; higher is more severe.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLevel accepts a level name in any case, plus "warning". Unknown
// names yield LevelInfo and false.
func ParseLevel(s string) (LogLevel, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn, true
	}
	for i, name := range levelNames {
		if name == s {
			return LogLevel(i), true
		}
	}
	return LevelInfo, false
}

var (
	currentLevel atomic.Uint32
	output       atomic.Pointer[stdlog.Logger]
	exit         = os.Exit
)

func init() {
	SetOutput(os.Stderr)
	SetLevel(LevelInfo)
}

// SetLevel changes the threshold for every logger.
func SetLevel(level LogLevel) { currentLevel.Store(uint32(level)) }

// GetLevel returns the current threshold.
func GetLevel() LogLevel { return LogLevel(currentLevel.Load()) }

// SetOutput redirects every logger to w. Timestamps carry microseconds.
func SetOutput(w io.Writer) {
	output.Store(stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds))
}

// Enabled reports whether a message at level would be written.
func Enabled(level LogLevel) bool { return level >= GetLevel() }

// Logger is a component logger. The zero value logs without a prefix.
type Logger struct {
	prefix string
}

// For returns a logger that tags every message with component.
func For(component string) *Logger {
	return &Logger{prefix: component + ": "}
}

// logf formats and writes one line. Level tags are padded to five columns
// so messages line up.
func (l *Logger) logf(level LogLevel, format string, v []any) {
	if level != LevelFatal && !Enabled(level) {
		return
	}
	output.Load().Printf("%-7s %s%s", "["+level.String()+"]", l.prefix, fmt.Sprintf(format, v...))
}

func (l *Logger) Debugf(format string, v ...any) { l.logf(LevelDebug, format, v) }
func (l *Logger) Infof(format string, v ...any)  { l.logf(LevelInfo, format, v) }
func (l *Logger) Warnf(format string, v ...any)  { l.logf(LevelWarn, format, v) }
func (l *Logger) Errorf(format string, v ...any) { l.logf(LevelError, format, v) }

// Fatalf logs regardless of level and exits with status 1.
func (l *Logger) Fatalf(format string, v ...any) {
	l.logf(LevelFatal, format, v)
	exit(1)
}

// std backs the package-level helpers.
var std = &Logger{}

func Debugf(format string, v ...any) { std.Debugf(format, v...) }
func Infof(format string, v ...any)  { std.Infof(format, v...) }
func Warnf(format string, v ...any)  { std.Warnf(format, v...) }
func Errorf(format string, v ...any) { std.Errorf(format, v...) }
func Fatalf(format string, v ...any) { std.Fatalf(format, v...) }
