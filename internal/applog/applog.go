package applog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxFileSizeMB = 5
	maxBackups    = 3
	maxValueLen   = 200
	truncSuffix   = "…"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
	rot    *lumberjack.Logger
)

// Init opens dir/vibetabber.log for appending. Call once at startup.
// The file rotates at 5 MB. Safe to skip: all log calls are no-ops until
// Init succeeds.
func Init(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "vibetabber.log"),
		MaxSize:    maxFileSizeMB,
		MaxBackups: maxBackups,
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: truncate,
	})

	mu.Lock()
	defer mu.Unlock()
	if rot != nil {
		rot.Close()
	}
	rot = w
	logger = slog.New(h)
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if rot != nil {
		rot.Close()
		rot = nil
	}
	logger = nil
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "remote", addr)
//	applog.Info("store.restored", "tabs", 12)
func Info(event string, kv ...any) {
	write(slog.LevelInfo, event, nil, kv)
}

// Debug logs a high-volume event such as a single host tab update.
func Debug(event string, kv ...any) {
	write(slog.LevelDebug, event, nil, kv)
}

// Error logs an event with an error.
//
//	applog.Error("host.close", err, "hostTabId", 5)
func Error(event string, err error, kv ...any) {
	write(slog.LevelError, event, err, kv)
}

func write(level slog.Level, event string, err error, kv []any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return
	}

	attrs := make([]slog.Attr, 0, len(kv)/2+1)
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, slog.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	l.LogAttrs(context.Background(), level, event, attrs...)
}

func truncate(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if s := a.Value.String(); len(s) > maxValueLen {
		a.Value = slog.StringValue(cut(s, maxValueLen) + truncSuffix)
	}
	return a
}

// cut shortens s to at most n bytes without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
