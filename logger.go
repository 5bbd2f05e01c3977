package fcarchive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Logger is the structured logger used by archives. Every line written for
// an open archive carries its "path" attribute.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler. A nil handler logs text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger writes JSON lines at or above level to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger writes logfmt lines at or above level to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1 << 10)}))
}

// WithPath returns a logger that tags each line with the archive path.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{Logger: l.With("path", path)}
}

// outcome logs msg+" failed" at error level when err is set, and okMsg at
// okLevel otherwise.
func (l *Logger) outcome(ctx context.Context, err error, msg string, okLevel slog.Level, okMsg string, attrs ...any) {
	if err != nil {
		l.ErrorContext(ctx, msg+" failed", append(attrs, "error", err)...)
		return
	}
	l.Log(ctx, okLevel, okMsg, attrs...)
}

// LogOpen reports the result of opening an archive.
func (l *Logger) LogOpen(ctx context.Context, size int, rebuilt bool, err error) {
	if err != nil {
		l.outcome(ctx, err, "open", slog.LevelInfo, "")
		return
	}
	l.InfoContext(ctx, "archive opened", "size", size, "rebuilt", rebuilt)
}

// LogRebuild reports an index rebuild. On failure records is the number of
// records scanned before the error.
func (l *Logger) LogRebuild(ctx context.Context, records int, elapsed time.Duration, err error) {
	if err != nil {
		l.outcome(ctx, err, "index rebuild", slog.LevelInfo, "", "records_scanned", records)
		return
	}
	l.InfoContext(ctx, "index rebuild completed", "records", records, "elapsed", elapsed)
}

// LogProgress reports how far a long scan has come. total is 0 when unknown.
func (l *Logger) LogProgress(ctx context.Context, op string, done, total int) {
	l.InfoContext(ctx, "progress", "op", op, "done", done, "total", total)
}

// LogSearch reports a finished search. Successful searches log at debug.
func (l *Logger) LogSearch(ctx context.Context, queries, scanned int, elapsed time.Duration, err error) {
	attrs := []any{"queries", queries, "scanned", scanned}
	if err == nil {
		attrs = append(attrs, "elapsed", elapsed)
	}
	l.outcome(ctx, err, "search", slog.LevelDebug, "search completed", attrs...)
}

// LogClose reports the result of closing an archive.
func (l *Logger) LogClose(ctx context.Context, size int, err error) {
	l.outcome(ctx, err, "close", slog.LevelDebug, "archive closed", "size", size)
}

// progressInterval is the minimum time between two progress lines of a scan.
const progressInterval = 10 * time.Second

// progress rate-limits LogProgress calls for one scan.
type progress struct {
	mu    sync.Mutex
	l     *Logger
	op    string
	total int
	next  time.Time
}

func newProgress(l *Logger, op string, total int) *progress {
	return &progress{l: l, op: op, total: total, next: time.Now().Add(progressInterval)}
}

func (p *progress) tick(ctx context.Context, done int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now := time.Now(); now.After(p.next) {
		p.next = now.Add(progressInterval)
		p.l.LogProgress(ctx, p.op, done, p.total)
	}
}
