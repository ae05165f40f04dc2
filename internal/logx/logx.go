// SPDX-License-Identifier: Unlicense OR MIT

// Package logx builds the structured loggers used throughout ny.
//
// Library code logs through log/slog; the handler is backed by zerolog.
package logx

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// New returns a logger writing human readable lines to w at or above
// level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMilli, NoColor: true}
	zl := zerolog.New(out).With().Timestamp().Logger()
	return slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: level}))
}

// Default returns the logger used when none is configured: warnings and
// errors to stderr.
func Default() *slog.Logger {
	return New(os.Stderr, slog.LevelWarn)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(zeroslog.NewHandler(zerolog.Nop(), &zeroslog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel converts a level name such as "debug" or "WARN" to a
// slog level. Unknown names yield slog.LevelWarn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Err returns an attribute for err under the "error" key. A nil err
// is logged as "<nil>".
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Stringer returns an attribute holding the string form of v.
func Stringer(key string, v interface{ String() string }) slog.Attr {
	return slog.String(key, v.String())
}
