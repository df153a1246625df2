// Package klog is the kernel's leveled line logger. Lines go to a sink that
// accepts whole lines, normally the HAL logger.
package klog

import (
	"fmt"
	"strings"
	"sync"
)

// Sink receives complete log lines without a trailing newline.
type Sink interface {
	WriteLineString(s string)
}

type MaskLevel int

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
)

// Default prints everything except debug lines.
const Default = ErrorMask | WarnMask | InfoMask

// Logger filters lines by mask. A nil *Logger drops everything.
type Logger struct {
	mu    sync.Mutex
	sink  Sink
	level MaskLevel
}

// New returns a logger writing to sink with the given mask.
func New(sink Sink, level MaskLevel) *Logger {
	return &Logger{sink: sink, level: level}
}

// SetLevel replaces the mask and returns the previous one.
func (l *Logger) SetLevel(mask MaskLevel) MaskLevel {
	if l == nil {
		return Nothing
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.level
	l.level = mask
	return prev
}

// Level returns the current mask.
func (l *Logger) Level() MaskLevel {
	if l == nil {
		return Nothing
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Enabled reports whether lines at level m would be written.
func (l *Logger) Enabled(m MaskLevel) bool {
	return l.Level()&m != 0
}

// ParseLevel maps a flag value to a mask. The names are cumulative: "warn"
// also enables errors, "debug" enables everything.
func ParseLevel(s string) (MaskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return Nothing, nil
	case "error":
		return ErrorMask, nil
	case "warn":
		return ErrorMask | WarnMask, nil
	case "info", "":
		return Default, nil
	case "debug":
		return Default | DebugMask, nil
	default:
		return Nothing, fmt.Errorf("unknown log level %q", s)
	}
}

func (l *Logger) logf(m MaskLevel, prefix, format string, params ...any) {
	if l == nil || l.sink == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level&m == 0 {
		return
	}
	l.sink.WriteLineString(prefix + strings.TrimRight(fmt.Sprintf(format, params...), "\n"))
}

// Errorf writes at ErrorMask.
func (l *Logger) Errorf(format string, params ...any) {
	l.logf(ErrorMask, "ERROR: ", format, params...)
}

// Warnf writes at WarnMask.
func (l *Logger) Warnf(format string, params ...any) {
	l.logf(WarnMask, " WARN: ", format, params...)
}

// Infof writes at InfoMask.
func (l *Logger) Infof(format string, params ...any) {
	l.logf(InfoMask, " INFO: ", format, params...)
}

// Debugf writes at DebugMask.
func (l *Logger) Debugf(format string, params ...any) {
	l.logf(DebugMask, "DEBUG: ", format, params...)
}

// Printf is not maskable. Diagnostics that were explicitly asked for (pool
// dumps) use it.
func (l *Logger) Printf(format string, params ...any) {
	if l == nil || l.sink == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink.WriteLineString(strings.TrimRight(fmt.Sprintf(format, params...), "\n"))
}
