package ulogger

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := New("chain", WithWriter(&buf), WithPretty(false), WithLevel("DEBUG"))
	require.Equal(t, LevelDebug, logger.LogLevel())

	logger.Infof("connected block %d", 42)
	assert.Contains(t, buf.String(), `"service":"chain"`)
	assert.Contains(t, buf.String(), "connected block 42")

	buf.Reset()
	logger.SetLogLevel("WARN")
	logger.Infof("hidden")
	assert.Empty(t, buf.String())

	logger.Warnf("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestZeroLoggerChild(t *testing.T) {
	var buf bytes.Buffer

	parent := New("node", WithWriter(&buf), WithPretty(false), WithLevel("INFO"))
	child := parent.New("net")
	child.Infof("peer connected")

	assert.True(t, strings.Contains(buf.String(), `"service":"net"`))
	assert.Equal(t, LevelInfo, child.LogLevel())

	dup := parent.Duplicate(WithLevel("ERROR"))
	assert.Equal(t, LevelError, dup.LogLevel())
	assert.Equal(t, LevelInfo, parent.LogLevel())
}

func TestPrettyLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := New("wallet", WithWriter(&buf), WithPretty(true))
	logger.Infof("keypool topped up")

	assert.Contains(t, buf.String(), "wallet")
	assert.Contains(t, buf.String(), "keypool topped up")
}

type recordingT struct {
	errors []string
	logs   []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingT) Logf(format string, args ...any) {
	r.logs = append(r.logs, fmt.Sprintf(format, args...))
}

func TestErrorTestLogger(t *testing.T) {
	rt := &recordingT{}
	cancelled := 0
	logger := NewErrorTestLogger(rt, func() { cancelled++ })

	logger.Infof("ignored")
	logger.Warnf("ignored")
	assert.Empty(t, rt.errors)

	logger.Errorf("boom %d", 1)
	require.Len(t, rt.errors, 1)
	assert.Contains(t, rt.errors[0], "boom 1")
	assert.Equal(t, 1, cancelled)

	logger.Expect("flush failed")
	logger.Errorf("periodic flush failed: %v", "disk full")
	assert.Len(t, rt.errors, 1)
	assert.Len(t, rt.logs, 1)
	assert.Equal(t, []string{"periodic flush failed: disk full"}, logger.Seen())

	logger.Close()
	logger.Fatalf("after close")
	assert.Len(t, rt.errors, 1)
	assert.Len(t, rt.logs, 1)
}

func TestVerboseTestLogger(t *testing.T) {
	logger := NewVerboseTestLogger(t)
	assert.Equal(t, LevelDebug, logger.LogLevel())

	child := logger.New("p2p", WithLevel("WARN"))
	assert.Equal(t, LevelWarn, child.LogLevel())
	assert.Equal(t, LevelDebug, logger.LogLevel())

	child.Infof("dropped")
	child.Warnf("peer %d misbehaving", 3)

	dup := child.Duplicate(WithLevel("ERROR"))
	assert.Equal(t, LevelError, dup.LogLevel())
}
