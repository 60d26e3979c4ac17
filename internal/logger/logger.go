package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger = zerolog.Nop()
)

// Options configures the global logger.
type Options struct {
	Level string
	// File, when set, sends output to a size-rotated log file instead of
	// stdout. Used whenever the dashboard owns the terminal.
	File       string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
}

// Init initializes the global logger. The returned closer releases the log
// file, if any.
func Init(opts Options) io.Closer {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// Configure output
	var output io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 5),
		}
		output = rotator
		closer = rotator
	} else if opts.Console || os.Getenv("ENV") == "development" {
		// Pretty console logging in development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger with context
	Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Str("file", opts.File).
		Msg("logger initialized")

	return closer
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID returns a logger with a request ID field
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
