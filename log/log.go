package log

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	// Log absolutely nothing
	LevelNone int = iota
	// Log situations that are not expected to happen and
	// are difficult to handle (e.g. a bind failure or a broken socket)
	LevelErrors
	// Log non-critical situations that might happen, but shouldn't (e.g. a malformed envelope)
	LevelWarnings
	// Log situations that are expected, but important for the operation
	LevelInfo
	// Log everything
	LevelDebug
)

var logger zerolog.Logger
var loglevel = int32(LevelWarnings)

func init() {
	SetOutput(os.Stderr)
	zerolog.SetGlobalLevel(toZerolog(LevelWarnings))
}

var zerologLevels = []zerolog.Level{zerolog.Disabled, zerolog.ErrorLevel, zerolog.WarnLevel, zerolog.InfoLevel, zerolog.DebugLevel}

func toZerolog(ll int) zerolog.Level {
	if ll < 0 || ll >= len(zerologLevels) {
		return zerolog.DebugLevel
	}
	return zerologLevels[ll]
}

// SetOutput redirects all log output to w as JSON lines.
func SetOutput(w io.Writer) {
	logger = zerolog.New(w).With().Timestamp().Str("system", "taskbroker").Logger()
}

// SetConsole switches to human-readable output on stderr.
func SetConsole(console bool) {
	if console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
			With().Timestamp().Str("system", "taskbroker").Logger()
	} else {
		SetOutput(os.Stderr)
	}
}

// Set the global log level. It also applies to Component loggers created earlier.
func SetLoglevel(ll int) {
	atomic.StoreInt32(&loglevel, int32(ll))
	zerolog.SetGlobalLevel(toZerolog(ll))
}

// Performance-enhancer: Prevent unnecessary log calls
func IsLoggingEnabled(ll int) bool {
	return int(atomic.LoadInt32(&loglevel)) >= ll
}

// Log writes what (formatted like fmt.Sprint) if the level is enabled.
func Log(ll int, what ...interface{}) {
	if IsLoggingEnabled(ll) && ll > LevelNone {
		logger.WithLevel(toZerolog(ll)).Msg(fmt.Sprint(what...))
	}
}

func Logf(ll int, format string, args ...interface{}) {
	if IsLoggingEnabled(ll) && ll > LevelNone {
		logger.WithLevel(toZerolog(ll)).Msgf(format, args...)
	}
}

// Component returns a child logger tagged with the component name. It is
// filtered by the global level in effect when a line is written. Use it where
// structured fields read better than formatted strings.
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func mapToChar(i int) byte {
	i = i % (10 + 26 + 26)
	if i < 10 {
		return byte('0' + i)
	} else if i < 10+26 {
		return byte('A' + i - 10)
	} else if i < 10+26+26 {
		return byte('a' + i - 10 - 26)
	}
	return byte('_')
}

// Returns a short random alphanumeric string.
// This is used to assign tokens to requests in order to track them across log lines.
func GetLogToken() string {
	str := make([]byte, 6)
	for i := range str {
		str[i] = mapToChar(rand.Int())
	}
	return string(str)
}
