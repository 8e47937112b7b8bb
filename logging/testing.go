package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that writes through `tb.Log`, so parallel tests get their
// own lines. `tb.Helper` keeps Go from reporting this file as the log origin.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

// Write outputs the log entry to the underlying test object `Log` method.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	toPrint := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)

	var err error
	if len(fields) > 0 {
		var encoded string
		if encoded, err = encodeFields(fields); err == nil {
			toPrint = append(toPrint, encoded)
		}
	}
	tapp.tb.Log(strings.Join(toPrint, "\t"))
	return err
}

// Sync is a no-op.
func (tapp *testAppender) Sync() error {
	return nil
}
