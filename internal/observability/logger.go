// Package observability owns the process loggers.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It writes to stderr so stdout
// stays reserved for records, and is a no-op until InitCLILogger runs.
var CLILogger = zap.NewNop()

// ServerLogger is the logger used by the HTTP surface.
var ServerLogger = zap.NewNop()

// Options configure logger construction.
type Options struct {
	// Level is a zap level name ("debug", "info", ...). Empty means info.
	Level string

	// Verbose forces debug level.
	Verbose bool

	// Format is "console" or "json". Empty means console.
	Format string
}

// NewLogger builds a stderr logger named name.
func NewLogger(name string, opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q (expected console or json)", opts.Format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))
	return zap.New(core).Named(name), nil
}

// InitCLILogger replaces CLILogger. A bad option falls back to info-level
// console logging and reports the error.
func InitCLILogger(name string, opts Options) error {
	logger, err := NewLogger(name, opts)
	if err != nil {
		fallback, _ := NewLogger(name, Options{Verbose: opts.Verbose})
		CLILogger = fallback
		return err
	}
	CLILogger = logger
	return nil
}

// InitServerLogger replaces ServerLogger with a JSON logger.
func InitServerLogger(name string, level string) error {
	logger, err := NewLogger(name, Options{Level: level, Format: "json"})
	if err != nil {
		return err
	}
	ServerLogger = logger
	return nil
}

// Sync flushes both loggers, ignoring the benign errors stderr returns.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}
