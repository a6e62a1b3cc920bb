// Package observability holds the CLI logger, job metrics and the observers
// that attach them to a running job.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger. It writes to stderr so stdout stays
// reserved for JSONL records. It is a no-op until InitCLILogger runs.
var CLILogger = zap.NewNop()

var cliLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var consoleEncoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "level",
	NameKey:        "logger",
	MessageKey:     "msg",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.ISO8601TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
}

var structuredEncoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "level",
	NameKey:        "logger",
	CallerKey:      "caller",
	MessageKey:     "msg",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.LowercaseLevelEncoder,
	EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
	EncodeDuration: zapcore.MillisDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// InitCLILogger installs a console logger named name. verbose selects debug
// level.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	// Only fails on an unknown level or profile, neither possible here.
	_ = ConfigureCLILogger(name, level, "console")
}

// ConfigureCLILogger replaces CLILogger using the configured level and
// profile ("console" or "structured").
func ConfigureCLILogger(name, level, profile string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(profile) {
	case "", "console":
		enc = zapcore.NewConsoleEncoder(consoleEncoderConfig)
	case "structured":
		enc = zapcore.NewJSONEncoder(structuredEncoderConfig)
	default:
		return fmt.Errorf("unknown log profile %q", profile)
	}

	cliLevel.SetLevel(lvl)
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), cliLevel)
	CLILogger = zap.New(core, zap.AddCaller()).Named(name)
	return nil
}

// SetCLILevel changes the active level without rebuilding the logger.
func SetCLILevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	cliLevel.SetLevel(lvl)
	return nil
}
