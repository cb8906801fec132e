// Package log provides structured logging for the capsule service.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the service.
var (
	Ledger    zerolog.Logger
	Capsule   zerolog.Logger
	Scheduler zerolog.Logger
	Store     zerolog.Logger
	API       zerolog.Logger
	Notify    zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given level and output format.
func Init(level string, jsonOutput bool) {
	if jsonOutput {
		Logger = NewJSONLogger(os.Stdout, level)
	} else {
		Logger = NewConsoleLogger(os.Stdout, level)
	}
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// WithComponent returns a child of the global logger tagged with name.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Ledger = WithComponent("ledger")
	Capsule = WithComponent("capsule")
	Scheduler = WithComponent("scheduler")
	Store = WithComponent("store")
	API = WithComponent("api")
	Notify = WithComponent("notify")
}
