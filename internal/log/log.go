package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	logger     atomic.Pointer[zerolog.Logger]
	loggerOnce sync.Once
)

// initLogger sets up the global console logger on stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		l := newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano})
		logger.Store(&l)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetOutput redirects log output, mainly for tests. The writer receives
// JSON lines. It is safe to call while other goroutines are logging.
func SetOutput(w io.Writer) {
	initLogger()
	l := newLogger(w)
	logger.Store(&l)
}

func current() *zerolog.Logger {
	initLogger()
	return logger.Load()
}

func SetLevel(l Level) {
	initLogger()
	zerolog.SetGlobalLevel(toZerolog(l))
}

// ParseLevel maps a case-insensitive level name to a Level, defaulting to
// LevelInfo for unknown names.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	withKVs(current().Debug(), kv).Msg(msg)
}

func Info(msg string, kv ...any) {
	withKVs(current().Info(), kv).Msg(msg)
}

func Error(msg string, err error, kv ...any) {
	withKVs(current().Error().Err(err), kv).Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// withKVs attaches key/value pairs to e. Non-string keys are skipped and a
// trailing key without a value is ignored.
func withKVs(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case int:
			e = e.Int(key, v)
		case bool:
			e = e.Bool(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case time.Time:
			e = e.Time(key, v)
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}
