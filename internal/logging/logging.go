// Package logging builds the process logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// LevelEnv overrides the log level (debug, info, warn, error).
const LevelEnv = "JNLPGUARD_LOG_LEVEL"

// Options tune New. The zero value logs info and above to stderr.
type Options struct {
	Level   string // overrides LevelEnv when set
	Console *bool  // nil picks console output when stderr is a terminal
	Output  string // file path; empty means stderr
}

// New returns a production zap logger. Stderr on a terminal gets the
// console encoder; pipes and files get JSON.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	level := opts.Level
	if level == "" {
		level = os.Getenv(LevelEnv)
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level.SetLevel(lvl)
	}

	console := opts.Output == "" && term.IsTerminal(int(os.Stderr.Fd()))
	if opts.Console != nil {
		console = *opts.Console
	}
	if console {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.Output != "" {
		config.OutputPaths = []string{opts.Output}
	}

	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Sampling = nil

	return config.Build()
}

// Must is New that falls back to a no-op logger on error, for commands
// where logging is optional.
func Must(opts Options) *zap.Logger {
	log, err := New(opts)
	if err != nil {
		return zap.NewNop()
	}
	return log
}
