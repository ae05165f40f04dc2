// SPDX-License-Identifier: Unlicense OR MIT

package logx

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelWarn)
	l.Info("hidden")
	l.Warn("unrouted event", Err(errors.New("boom")), slog.String("kind", "resize"))
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "unrouted event")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "resize")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(" info "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("bogus"))
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().Error("dropped")
	})
}

func TestErrNil(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelInfo)
	assert.NotPanics(t, func() {
		l.Info("done", Err(nil))
	})
	assert.Contains(t, buf.String(), "<nil>")
}
