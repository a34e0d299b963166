package ulogger

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// TestingT is the part of testing.TB the error test logger needs.
type TestingT interface {
	Errorf(format string, args ...interface{})
	Logf(format string, args ...any)
}

type tHelper = interface {
	Helper()
}

// ErrorTestLogger discards everything below ERROR and fails the test on
// every error or fatal line that was not announced with Expect. Tests use it
// to prove that a scenario completes without the node logging a fault.
type ErrorTestLogger struct {
	t        TestingT
	cancelFn func()
	closed   atomic.Bool

	mu       sync.Mutex
	expected []string
	seen     []string
}

func NewErrorTestLogger(t TestingT, cancelFn ...func()) *ErrorTestLogger {
	l := &ErrorTestLogger{t: t}

	if len(cancelFn) > 0 {
		l.cancelFn = cancelFn[0]
	}

	return l
}

// Expect lets error lines containing substr through without failing the
// test. They are still recorded and returned by Seen.
func (l *ErrorTestLogger) Expect(substr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expected = append(l.expected, substr)
}

// Seen returns the expected error lines logged so far.
func (l *ErrorTestLogger) Seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.seen...)
}

// Close stops the logger from touching the test, for goroutines that
// outlive it.
func (l *ErrorTestLogger) Close() {
	l.closed.Store(true)
}

func (l *ErrorTestLogger) LogLevel() int {
	return LevelError
}

func (l *ErrorTestLogger) SetLogLevel(string) {}

func (l *ErrorTestLogger) New(string, ...Option) Logger {
	return l
}

func (l *ErrorTestLogger) Duplicate(...Option) Logger {
	return l
}

func (l *ErrorTestLogger) Debugf(string, ...interface{}) {}

func (l *ErrorTestLogger) Infof(string, ...interface{}) {}

func (l *ErrorTestLogger) Warnf(string, ...interface{}) {}

func (l *ErrorTestLogger) Errorf(format string, args ...interface{}) {
	l.fail("ERROR", format, args...)
}

func (l *ErrorTestLogger) Fatalf(format string, args ...interface{}) {
	l.fail("FATAL", format, args...)
}

func (l *ErrorTestLogger) fail(tag, format string, args ...interface{}) {
	if l.closed.Load() {
		return
	}

	if h, ok := l.t.(tHelper); ok {
		h.Helper()
	}

	line := fmt.Sprintf(format, args...)

	l.mu.Lock()
	for _, substr := range l.expected {
		if strings.Contains(line, substr) {
			l.seen = append(l.seen, line)
			l.mu.Unlock()

			l.t.Logf("[%s] expected: %s", tag, line)

			return
		}
	}
	l.mu.Unlock()

	l.t.Errorf("[%s] unexpected: %s", tag, line)

	if l.cancelFn != nil {
		l.cancelFn()
	}
}
