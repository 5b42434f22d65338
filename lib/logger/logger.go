// Package logger implements a leveled logger with per-facility debug
// toggles and pluggable handlers, in the style used throughout the
// engine for structured, low-ceremony logging.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelVerbose
	LevelInfo
	LevelWarn
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelVerbose:
		return "VERBOSE"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "UNKNOWN"
	}
}

type MessageHandler func(l LogLevel, msg string)

// Logger is a leveled, facility-aware wrapper around the standard
// library's log.Logger. One process-wide instance, DefaultLogger, is used
// unless a caller constructs its own for testing.
type Logger struct {
	logger     *log.Logger
	mut        sync.Mutex
	handlers   [4][]MessageHandler
	facilities map[string]string
	debug      map[string]bool
}

// New creates a new Logger that writes to stderr by default.
func New() *Logger {
	return &Logger{
		logger:     log.New(os.Stderr, "", log.Ltime),
		facilities: make(map[string]string),
		debug:      make(map[string]bool),
	}
}

// DefaultLogger is the process-wide logger used when no facility-scoped
// Facility has been created.
var DefaultLogger = New()

func (l *Logger) SetFlags(flag int) { l.logger.SetFlags(flag) }

func (l *Logger) SetPrefix(prefix string) { l.logger.SetPrefix(prefix) }

// AddHandler registers a callback invoked for every message at level or
// above, e.g. so a test can count the messages it expects.
func (l *Logger) AddHandler(level LogLevel, h MessageHandler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

func (l *Logger) callHandlers(level LogLevel, s string) {
	l.mut.Lock()
	var hs []MessageHandler
	for lv := LevelDebug; lv <= level; lv++ {
		hs = append(hs, l.handlers[lv]...)
	}
	l.mut.Unlock()
	for _, h := range hs {
		h(level, s)
	}
}

func (l *Logger) log(level LogLevel, vals ...interface{}) {
	s := fmt.Sprintln(vals...)
	l.logger.Output(3, level.String()+": "+s)
	l.callHandlers(level, s)
}

func (l *Logger) logf(level LogLevel, format string, vals ...interface{}) {
	s := fmt.Sprintf(format, vals...)
	l.logger.Output(3, level.String()+": "+s)
	l.callHandlers(level, s)
}

func (l *Logger) Debugln(vals ...interface{}) { l.log(LevelDebug, vals...) }
func (l *Logger) Debugf(format string, vals ...interface{}) {
	l.logf(LevelDebug, format, vals...)
}
func (l *Logger) Infoln(vals ...interface{}) { l.log(LevelInfo, vals...) }
func (l *Logger) Infof(format string, vals ...interface{}) {
	l.logf(LevelInfo, format, vals...)
}
func (l *Logger) Warnln(vals ...interface{}) { l.log(LevelWarn, vals...) }
func (l *Logger) Warnf(format string, vals ...interface{}) {
	l.logf(LevelWarn, format, vals...)
}

// SetDebug toggles debug-level logging for a named facility. Facilities
// that have never been registered via NewFacility are silently accepted,
// so configuration can pre-enable a facility before it is constructed.
func (l *Logger) SetDebug(facility string, enabled bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.debug[facility] = enabled
}

func (l *Logger) ShouldDebug(facility string) bool {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.debug[facility]
}

// Facility is a named, independently toggleable debug-logging scope, e.g.
// "sync", "store", "replicator".
type Facility struct {
	logger      *Logger
	name, descr string
}

func (l *Logger) NewFacility(name, descr string) *Facility {
	l.mut.Lock()
	l.facilities[name] = descr
	l.mut.Unlock()
	return &Facility{logger: l, name: name, descr: descr}
}

func (f *Facility) Debugln(vals ...interface{}) {
	if f.logger.ShouldDebug(f.name) {
		f.logger.log(LevelDebug, vals...)
	}
}

func (f *Facility) Debugf(format string, vals ...interface{}) {
	if f.logger.ShouldDebug(f.name) {
		f.logger.logf(LevelDebug, format, vals...)
	}
}

// Infoln and Warnln are not gated by the facility's debug toggle.
func (f *Facility) Infoln(vals ...interface{}) { f.logger.log(LevelInfo, vals...) }
func (f *Facility) Warnln(vals ...interface{}) { f.logger.log(LevelWarn, vals...) }
