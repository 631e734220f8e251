package logging

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

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

// Output formats accepted by SetFormat.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	currentLevel atomic.Int32 // Stores the current logging level atomically.

	mu     sync.RWMutex
	out    io.Writer = os.Stderr
	format           = FormatConsole
	logger zerolog.Logger
)

func init() {
	// Default log level is Info.
	currentLevel.Store(Info)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	rebuild()
}

// rebuild recreates the root zerolog logger from the current output and format.
// Callers must not hold mu.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()
	var w io.Writer = out
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006/01/02 15:04:05.000000", NoColor: true}
	}
	logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(toZerolog(int(currentLevel.Load())))
}

// toZerolog maps the package levels onto zerolog levels.
func toZerolog(level int) zerolog.Level {
	switch level {
	case None:
		return zerolog.Disabled
	case Error:
		return zerolog.ErrorLevel
	case Warning:
		return zerolog.WarnLevel
	case Info:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	zerolog.SetGlobalLevel(toZerolog(level))
	if level >= Debug {
		logf(Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(levelStr) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetFormat switches between human readable console lines and JSON lines.
// Unknown formats fall back to console.
func SetFormat(f string) {
	mu.Lock()
	if strings.EqualFold(f, FormatJSON) {
		format = FormatJSON
	} else {
		format = FormatConsole
	}
	mu.Unlock()
	rebuild()
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
	rebuild()
}

// Component returns a structured logger tagged with the component name.
// It honours the level configured through SetLevel.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", name).Logger()
}

func logf(level int, format string, v ...interface{}) {
	if level == None || int32(level) > currentLevel.Load() {
		return
	}
	mu.RLock()
	l := logger
	mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case Error:
		ev = l.Error()
	case Warning:
		ev = l.Warn()
	case Info:
		ev = l.Info()
	default:
		// Caller info only at debug, skip logf and Logf.
		ev = l.Debug().Caller(2)
	}
	ev.Msgf(format, v...)
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(level, format, v...)
}
