// Package xlog is the consensus-core's structured logger, built the way
// the teacher repository's own log package is: a thin, leveled wrapper
// around log/slog with a colorized terminal handler for interactive use
// and a plain handler for production, distinguishing itself from a bare
// slog.Logger by auto-attaching a "component" field per call site.
package xlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger wraps slog.Logger with a fixed "component" field, matching the
// teacher's log.New("module", name) idiom used throughout go-ethereum.
type Logger struct {
	slog *slog.Logger
}

var root = New("")

// New returns a component-scoped logger. Calling New("") returns the
// process-wide root logger.
func New(component string, attrs ...any) *Logger {
	h := defaultHandler
	l := slog.New(h)
	if component != "" {
		attrs = append([]any{"component", component}, attrs...)
	}
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return &Logger{slog: l}
}

var defaultHandler slog.Handler = NewTerminalHandler(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))

// SetDefault replaces the handler used by every subsequently constructed
// Logger (the root included) — called once at process startup by cmd/.
func SetDefault(h slog.Handler) { defaultHandler = h; root = New("") }

func Root() *Logger { return root }

func (l *Logger) With(attrs ...any) *Logger { return &Logger{slog: l.slog.With(attrs...)} }

func (l *Logger) Trace(msg string, attrs ...any) {
	l.slog.Log(context.Background(), levelTrace, msg, attrs...)
}
func (l *Logger) Debug(msg string, attrs ...any) { l.slog.Debug(msg, attrs...) }
func (l *Logger) Info(msg string, attrs ...any)  { l.slog.Info(msg, attrs...) }
func (l *Logger) Warn(msg string, attrs ...any)  { l.slog.Warn(msg, attrs...) }
func (l *Logger) Error(msg string, attrs ...any) { l.slog.Error(msg, attrs...) }

// Crit logs at the highest severity and terminates the process, matching
// the teacher's convention that "Crit" means an unrecoverable startup
// failure (e.g. genesis validation — §7's "node refuses to start").
func (l *Logger) Crit(msg string, attrs ...any) {
	l.slog.Log(context.Background(), levelCrit, msg, attrs...)
	os.Exit(1)
}

const (
	levelTrace = slog.Level(-8)
	levelCrit  = slog.Level(12)
)

// NewTerminalHandler returns a colorized, column-aligned handler for
// interactive terminals, falling back to plain text when color is false.
func NewTerminalHandler(w io.Writer, useColor bool) slog.Handler {
	out := w
	if useColor {
		out = colorable.NewColorable(os.Stderr)
	}
	return &terminalHandler{w: out, useColor: useColor}
}

// NewJSONHandler returns a structured JSON handler, for non-interactive
// (log-aggregator) deployments.
func NewJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelTrace})
}

type terminalHandler struct {
	w        io.Writer
	useColor bool
	attrs    []slog.Attr
}

func (h *terminalHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &terminalHandler{w: h.w, useColor: h.useColor, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler { return h }

// Handle formats a record as: "LVL [MM-DD|hh:mm:ss.000] msg key=val ...",
// the record's own attributes first and the handler's after them. It does
// not add the caller's file:line (CallerShort is separate).
func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	lvl := levelString(r.Level)
	if h.useColor {
		lvl = colorForLevel(r.Level)(lvl)
	}
	ts := time.Now().Format("01-02|15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s", lvl, ts, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
	}
	line += "\n"
	_, err := io.WriteString(h.w, line)
	return err
}

func levelString(l slog.Level) string {
	switch {
	case l <= levelTrace:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO "
	case l < slog.LevelError:
		return "WARN "
	case l < levelCrit:
		return "ERROR"
	default:
		return "CRIT "
	}
}

func colorForLevel(l slog.Level) func(string, ...interface{}) string {
	switch {
	case l < slog.LevelInfo:
		return color.New(color.FgHiBlack).SprintfFunc()
	case l < slog.LevelWarn:
		return color.New(color.FgGreen).SprintfFunc()
	case l < slog.LevelError:
		return color.New(color.FgYellow).SprintfFunc()
	default:
		return color.New(color.FgRed).SprintfFunc()
	}
}

// CallerShort returns a "file:line" string for the given number of stack
// frames up, using go-stack/stack the same way the teacher's log package
// derives %shortfile-style context.
func CallerShort(skip int) string {
	call := stack.Caller(skip + 1)
	return fmt.Sprintf("%+v", call)
}
