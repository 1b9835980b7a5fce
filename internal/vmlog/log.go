// Package vmlog is the structured logger the garbage collector reports its
// cycles through.
//
// It mirrors the architecture of the teacher project's own logger: a
// slog.Handler writing through github.com/mattn/go-colorable that, when the
// destination is a real terminal (detected with github.com/mattn/go-isatty),
// adds a "_color" attribute holding the level's ANSI code, and writes plain
// text otherwise. The level label itself is not colored.
package vmlog

import (
	"context"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var root *slog.Logger

func init() {
	root = slog.New(newHandler(os.Stderr, slog.LevelInfo))
}

// SetLevel rebuilds the root logger at the given minimum level.
func SetLevel(level slog.Level) {
	root = slog.New(newHandler(os.Stderr, level))
}

// Logger returns the package-level structured logger.
func Logger() *slog.Logger { return root }

func Debug(msg string, args ...any) { root.Debug(msg, args...) }
func Info(msg string, args ...any)  { root.Info(msg, args...) }
func Warn(msg string, args ...any)  { root.Warn(msg, args...) }
func Error(msg string, args ...any) { root.Error(msg, args...) }

// colorHandler wraps slog.TextHandler, adding a "_color" attribute with the
// level's ANSI color code when writing to a real terminal; TextHandler
// prints it as a quoted attribute and leaves the level label uncolored.
type colorHandler struct {
	inner   slog.Handler
	colored bool
}

func newHandler(f *os.File, level slog.Level) slog.Handler {
	colored := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	out := colorable.NewColorable(f)
	return &colorHandler{
		inner:   slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}),
		colored: colored,
	}
}

func (h *colorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *colorHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.colored {
		r.AddAttrs(slog.String("_color", levelColor(r.Level)))
	}
	return h.inner.Handle(ctx, r)
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{inner: h.inner.WithAttrs(attrs), colored: h.colored}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{inner: h.inner.WithGroup(name), colored: h.colored}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\x1b[31m"
	case level >= slog.LevelWarn:
		return "\x1b[33m"
	case level >= slog.LevelInfo:
		return "\x1b[36m"
	default:
		return "\x1b[90m"
	}
}
