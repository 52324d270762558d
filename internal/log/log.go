package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the process-wide logger.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Format is "console" (human readable) or "json".
	Format string
	// Writer defaults to os.Stderr; stdout is reserved for -once output.
	Writer io.Writer
}

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	inited bool
)

// Init (re)configures the global logger. Safe to call more than once; the
// last call wins, which is what config reloads and tests want.
func Init(opt Options) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if !strings.EqualFold(opt.Format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: opt.Writer != nil}
	}

	l := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	inited = true
	mu.Unlock()
}

func get() zerolog.Logger {
	mu.RLock()
	if inited {
		l := logger
		mu.RUnlock()
		return l
	}
	mu.RUnlock()
	Init(Options{Level: "info", Format: "console"})
	return get()
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	if !inited {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		inited = true
	}
	logger = logger.Level(parseLevel(string(l)))
}

func Debug(msg string, kv ...any) {
	l := get()
	emit(l.Debug(), msg, kv)
}

func Info(msg string, kv ...any) {
	l := get()
	emit(l.Info(), msg, kv)
}

func Warn(msg string, kv ...any) {
	l := get()
	emit(l.Warn(), msg, kv)
}

func Error(msg string, err error, kv ...any) {
	l := get()
	emit(l.Error().Err(err), msg, kv)
}

// Logger is a child logger carrying a fixed component field. It follows
// the global logger, so later Init and SetLevel calls apply to it too.
type Logger struct {
	name string
}

// Named returns a child logger tagged with component=name.
func Named(name string) Logger {
	return Logger{name: name}
}

func (c Logger) logger() zerolog.Logger {
	return get().With().Str("component", c.name).Logger()
}

func (c Logger) Debug(msg string, kv ...any) {
	l := c.logger()
	emit(l.Debug(), msg, kv)
}

func (c Logger) Info(msg string, kv ...any) {
	l := c.logger()
	emit(l.Info(), msg, kv)
}

func (c Logger) Warn(msg string, kv ...any) {
	l := c.logger()
	emit(l.Warn(), msg, kv)
}

func (c Logger) Error(msg string, err error, kv ...any) {
	l := c.logger()
	emit(l.Error().Err(err), msg, kv)
}

func emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		// level disabled
		return
	}
	// Expect kv as pairs: key, value, key, value, ...
	// A trailing odd element is ignored, as are non-string keys.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case time.Time:
			ev = ev.Time(key, v)
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
