// Package logging provides the daemon's leveled, prefix-chaining logger.
//
// It generalizes the teacher's pkg/logging.Logger (a wrapper around the
// standard log package that stays functional when nil) to the fuller API
// actually exercised by the teacher's synchronization controller and
// manager: Sublogger, Info/Infof, Debug/Debugf, Tracef, Level, and
// colorized Warn/Error output.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/fatih/color"
)

// Level represents a log level, ordered from least to most verbose.
type Level uint32

const (
	// LevelDisabled indicates that logging is completely disabled.
	LevelDisabled Level = iota
	// LevelError indicates that only fatal errors are logged.
	LevelError
	// LevelWarn indicates that both fatal and non-fatal errors are logged.
	LevelWarn
	// LevelInfo indicates that basic execution information is logged.
	LevelInfo
	// LevelDebug indicates that advanced execution information is logged.
	LevelDebug
	// LevelTrace indicates that low-level execution information is logged.
	LevelTrace
)

// NameToLevel converts a string representation of a log level to a Level. It
// returns false if the name is not recognized.
func NameToLevel(name string) (Level, bool) {
	switch name {
	case "disabled":
		return LevelDisabled, true
	case "error":
		return LevelError, true
	case "warn":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	case "trace":
		return LevelTrace, true
	default:
		return LevelDisabled, false
	}
}

// String returns a human-readable representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// Logger is the daemon's logger. Like the teacher's logger, a nil *Logger is
// always safe to call and simply discards output, so subsystems can accept a
// *Logger without special-casing "no logging configured". It is safe for
// concurrent use.
type Logger struct {
	prefix string
	level  *atomic.Uint32
	output *log.Logger
}

// NewRoot creates a new root logger writing to w at the given level.
func NewRoot(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl := &atomic.Uint32{}
	lvl.Store(uint32(level))
	return &Logger{
		level:  lvl,
		output: log.New(w, "", log.LstdFlags),
	}
}

// SetLevel adjusts the logger's level (and that of every sublogger sharing
// its root, since the level is held by reference) at runtime, e.g. in
// response to a configuration reload (§4.K).
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.Store(uint32(level))
}

// Level returns the logger's current level.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return Level(l.level.Load())
}

// Sublogger creates a new logger with the given name appended to the prefix
// chain, mirroring the teacher's Logger.Sublogger.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{
		prefix: prefix,
		level:  l.level,
		output: l.output,
	}
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && l.Level() >= level
}

func (l *Logger) line(s string) string {
	if l.prefix != "" {
		return fmt.Sprintf("[%s] %s", l.prefix, s)
	}
	return s
}

// Info logs at LevelInfo with fmt.Sprint semantics.
func (l *Logger) Info(v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.output.Output(3, l.line(fmt.Sprint(v...)))
	}
}

// Infof logs at LevelInfo with fmt.Sprintf semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.output.Output(3, l.line(fmt.Sprintf(format, v...)))
	}
}

// Debug logs at LevelDebug with fmt.Sprint semantics.
func (l *Logger) Debug(v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.output.Output(3, l.line(fmt.Sprint(v...)))
	}
}

// Debugf logs at LevelDebug with fmt.Sprintf semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.output.Output(3, l.line(fmt.Sprintf(format, v...)))
	}
}

// Tracef logs at LevelTrace with fmt.Sprintf semantics.
func (l *Logger) Tracef(format string, v ...interface{}) {
	if l.enabled(LevelTrace) {
		l.output.Output(3, l.line(fmt.Sprintf(format, v...)))
	}
}

// Warn logs error information with a yellow warning prefix.
func (l *Logger) Warn(err error) {
	if l.enabled(LevelWarn) {
		l.output.Output(3, l.line(color.YellowString("warning: %v", err)))
	}
}

// Error logs error information with a red error prefix.
func (l *Logger) Error(err error) {
	if l.enabled(LevelError) {
		l.output.Output(3, l.line(color.RedString("error: %v", err)))
	}
}

// writer is an io.Writer that splits its input stream into lines and routes
// each line through a logging callback, exactly as the teacher's internal
// writer type does for attaching loggers to child process stdout/stderr.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// Write implements io.Writer.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)
	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}
	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}
	return len(buffer), nil
}

// Writer returns an io.Writer that logs each line at LevelInfo, suitable for
// attaching to a supervised child process's stdout (§4.J).
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: l.Info}
}
