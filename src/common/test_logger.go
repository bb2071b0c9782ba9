package common

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestLogLevel is the level used by the loggers of package tests.
const TestLogLevel = logrus.DebugLevel

// This can be used as the destination for a logger and it'll
// map them into calls to testing.T.Log, so that you only see
// the logging for failed tests.
// Writes made after the test has finished are discarded, since background
// goroutines may still be logging while their owner shuts down.
type testLoggerAdapter struct {
	mu       sync.Mutex
	t        testing.TB
	prefix   string
	finished bool
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return len(d), nil
	}
	if len(d) > 0 && d[len(d)-1] == '\n' {
		d = d[:len(d)-1]
	}
	if a.prefix != "" {
		l := a.prefix + ": " + string(d)
		a.t.Log(l)
		return len(l), nil
	}
	a.t.Log(string(d))
	return len(d), nil
}

// NewTestLogger returns a logrus Logger that writes through t.Log.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	adapter := &testLoggerAdapter{t: t}
	t.Cleanup(func() {
		adapter.mu.Lock()
		adapter.finished = true
		adapter.mu.Unlock()
	})

	logger := logrus.New()
	logger.Out = adapter
	logger.Level = level
	return logger
}

// NewTestEntry returns a logrus Entry, prefixed with the test name, that writes
// through t.Log.
func NewTestEntry(t testing.TB, level logrus.Level) *logrus.Entry {
	return NewTestLogger(t, level).WithField("prefix", t.Name())
}
