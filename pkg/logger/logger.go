package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var Log *slog.Logger

type asyncWriter struct {
	ch chan []byte
}

func (a *asyncWriter) Write(p []byte) (n int, err error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		// drop if queue full to avoid blocking the sync loop
	}
	return len(p), nil
}

var (
	logCh     chan []byte
	logStopCh chan struct{}
	logWG     sync.WaitGroup
	initMu    sync.Mutex
)

// ParseLevel maps a level name to a slog level; unknown names map to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the global logger. level is "debug", "info", "warn" or
// "error"; format is "text" or "json"; sink is "stdout", "stderr" or
// "file:/path". Empty values fall back to CHATSYNC_LOG_* env vars.
func Init(level, format, sink string) {
	initMu.Lock()
	defer initMu.Unlock()
	stopLocked()

	if level == "" {
		level = os.Getenv("CHATSYNC_LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("CHATSYNC_LOG_FORMAT")
	}
	if sink == "" {
		sink = os.Getenv("CHATSYNC_LOG_SINK")
	}

	logCh = make(chan []byte, 10000)
	logStopCh = make(chan struct{})
	aw := &asyncWriter{ch: logCh}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		Log = slog.New(slog.NewJSONHandler(aw, opts))
	} else {
		Log = slog.New(slog.NewTextHandler(aw, opts))
	}

	ch, stop := logCh, logStopCh
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		out, closer := openSink(sink)
		buf := bufio.NewWriterSize(out, 8192)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case b := <-ch:
				buf.Write(b)
			case <-ticker.C:
				buf.Flush()
			case <-stop:
				for {
					select {
					case b := <-ch:
						buf.Write(b)
						continue
					default:
					}
					break
				}
				buf.Flush()
				if closer != nil {
					closer.Close()
				}
				return
			}
		}
	}()
}

func openSink(sink string) (io.Writer, io.Closer) {
	switch {
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
			return os.Stderr, nil
		}
		return f, f
	case sink == "stdout":
		return os.Stdout, nil
	default:
		// stdout belongs to command output in the CLI
		return os.Stderr, nil
	}
}

// Discard installs a logger that drops everything. Tests use it to keep
// output quiet while still exercising log call sites.
func Discard() {
	initMu.Lock()
	defer initMu.Unlock()
	stopLocked()
	Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func stopLocked() {
	if logStopCh != nil {
		close(logStopCh)
		logWG.Wait()
		logStopCh = nil
	}
}

// Sync flushes any buffered logs and stops the writer goroutine.
func Sync() {
	initMu.Lock()
	defer initMu.Unlock()
	stopLocked()
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a human-friendly block of configuration results
// to stderr, regardless of the configured level.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	human := strings.ReplaceAll(title, "_", " ")
	header := "== " + human + " "
	const width = 60
	if len(header) < width {
		header = header + strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stderr, header)
	for _, it := range items {
		fmt.Fprintln(os.Stderr, "- "+it)
	}
	fmt.Fprintln(os.Stderr)
}
