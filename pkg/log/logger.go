package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Category int

const (
	Application Category = iota
	TelegramEvents
	Errors
)

func (c Category) fileName() string {
	switch c {
	case TelegramEvents:
		return "telegram_events.log"
	case Errors:
		return "error.log"
	default:
		return "application.log"
	}
}

// Options configures SetupLogger. An empty Dir logs to the console only.
type Options struct {
	Dir        string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger owns one slog.Logger per category and the rotating files behind them.
type Logger struct {
	mu      sync.Mutex
	loggers map[Category]*slog.Logger
	files   []*lumberjack.Logger
}

var (
	// GlobalLogger is set by SetupLogger. Accessors fall back to a console
	// logger when it has not been configured, so tests never need setup.
	GlobalLogger *Logger

	globalMu sync.RWMutex
)

// SetupLogger configures the global category loggers. Calling it again
// replaces the previous configuration and closes its files.
func SetupLogger(opts Options) error {
	l, err := New(opts, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	globalMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	slog.SetDefault(l.For(Application))
	return nil
}

// New builds a Logger writing info-level categories to stdout and errors to
// stderr, tee'd to rotating files when opts.Dir is set.
func New(opts Options, stdout, stderr io.Writer) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	l := &Logger{loggers: make(map[Category]*slog.Logger, 3)}
	for _, c := range []Category{Application, TelegramEvents, Errors} {
		var w io.Writer = stdout
		if c == Errors {
			w = stderr
		}
		if opts.Dir != "" {
			f := &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, c.fileName()),
				MaxSize:    orDefault(opts.MaxSizeMB, 10),
				MaxBackups: orDefault(opts.MaxBackups, 5),
				MaxAge:     orDefault(opts.MaxAgeDays, 28),
			}
			l.files = append(l.files, f)
			w = io.MultiWriter(w, f)
		}
		l.loggers[c] = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return l, nil
}

// For returns the logger of a category.
func (l *Logger) For(c Category) *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loggers[c]
}

// Close releases the rotating files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}

// ParseLevel maps debug/info/warn/error to slog levels; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func category(c Category) *slog.Logger {
	globalMu.RLock()
	l := GlobalLogger
	globalMu.RUnlock()
	if l == nil {
		return slog.Default()
	}
	return l.For(c)
}

// ApplicationLogger logs process lifecycle and control panel activity.
func ApplicationLogger() *slog.Logger { return category(Application) }

// TelegramLogger logs Bot API calls and webhook updates.
func TelegramLogger() *slog.Logger { return category(TelegramEvents) }

// ErrorLoggerRaw logs failures that need operator attention.
func ErrorLoggerRaw() *slog.Logger { return category(Errors) }
