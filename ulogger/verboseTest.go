package ulogger

import (
	"sync"
	"testing"
)

// VerboseTestLogger writes every line to the test log, prefixed with the
// service that logged it. Lines below the configured level are dropped.
type VerboseTestLogger struct {
	t       testing.TB
	service string
	level   int
	mutex   *sync.Mutex
}

func NewVerboseTestLogger(t testing.TB) *VerboseTestLogger {
	return &VerboseTestLogger{t: t, level: LevelDebug, mutex: &sync.Mutex{}}
}

func (l *VerboseTestLogger) LogLevel() int {
	return l.level
}

func (l *VerboseTestLogger) SetLogLevel(level string) {
	l.level = levelFromString(level)
}

func (l *VerboseTestLogger) New(service string, options ...Option) Logger {
	child := *l
	child.service = service

	opts := &Options{}
	for _, o := range options {
		o(opts)
	}

	if opts.logLevel != "" {
		child.level = levelFromString(opts.logLevel)
	}

	return &child
}

func (l *VerboseTestLogger) Duplicate(options ...Option) Logger {
	return l.New(l.service, options...)
}

func (l *VerboseTestLogger) logf(level int, tag, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.t.Helper()
	l.t.Logf("["+tag+"] "+l.service+": "+format, args...)
}

func (l *VerboseTestLogger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG", format, args...)
}

func (l *VerboseTestLogger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "INFO", format, args...)
}

func (l *VerboseTestLogger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN", format, args...)
}

func (l *VerboseTestLogger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR", format, args...)
}

func (l *VerboseTestLogger) Fatalf(format string, args ...interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.t.Fatalf("[FATAL] "+l.service+": "+format, args...)
}
