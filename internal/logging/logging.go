// Package logging builds the agent's log sink: structured console output
// plus a timestamped, append-only log file that any user context can
// write to (boot runs as root, login runs as the console user).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// New returns a logger that writes to the console and appends to logFile.
// Debug records are dropped from both sinks unless debug is set. A log
// file that cannot be opened is not fatal; the agent falls back to
// console-only logging and reports the problem there.
func New(logFile string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	f, err := openLogFile(logFile)
	if err != nil {
		logger := slog.New(console)
		logger.Error("failed to open log file, console only", "path", logFile, "error", err)
		return logger
	}

	return slog.New(&teeHandler{
		console: console,
		file:    &lineHandler{w: f, level: level, mu: &sync.Mutex{}},
	})
}

// openLogFile opens logFile for appending, creating it world-writable so
// unprivileged login passes can append to the same file as boot passes.
func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, err
	}
	// The process umask usually masks the group/other write bits off at
	// creation, so force them back.
	if err := f.Chmod(0o666); err != nil && os.Geteuid() == 0 {
		f.Close()
		return nil, err
	}
	return f, nil
}

// teeHandler fans records out to the console handler and the file handler.
type teeHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if h.console.Enabled(ctx, r.Level) {
		firstErr = h.console.Handle(ctx, r.Clone())
	}
	if h.file.Enabled(ctx, r.Level) {
		if err := h.file.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		console: h.console.WithAttrs(attrs),
		file:    h.file.WithAttrs(attrs),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		console: h.console.WithGroup(name),
		file:    h.file.WithGroup(name),
	}
}

// lineHandler appends one timestamped line per record:
//
//	2026-08-27 09:15:04 [INFO] item executed path=/usr/local/stagecoach/boot-once/setup.sh exit=0
type lineHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr

	// mu is shared across WithAttrs derivatives writing to the same file.
	mu *sync.Mutex
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(r.Level.String())
	b.WriteString("] ")
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lineHandler{w: h.w, level: h.level, attrs: merged, mu: h.mu}
}

func (h *lineHandler) WithGroup(string) slog.Handler {
	// Groups are not used by the agent's log call sites.
	return h
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	fmt.Fprintf(b, " %s=%v", a.Key, a.Value.Any())
}
