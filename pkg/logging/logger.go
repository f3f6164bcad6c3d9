// Package logging wraps a process-wide zerolog logger.
//
// Call Init once from main; before that a JSON logger at info level writes to
// stderr so packages can log from tests and init paths.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Format is json or console.
	Format string
	// Dir, when set, also writes logs to a timestamped file in that directory.
	Dir string
	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	log     zerolog.Logger
	logFile *os.File
	mu      sync.RWMutex
)

func init() {
	log = build(Config{Level: "info", Format: "json", Output: os.Stderr}, os.Stderr)
}

// Init configures the global logger. It may be called again to reconfigure.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	out := cfg.Output

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		name := time.Now().Format("01_02_06_15_04_05") + ".log"
		f, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		out = io.MultiWriter(cfg.Output, f)
	}

	log = build(cfg, out)
	return nil
}

func build(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "gemprice").Logger()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// With returns a child logger carrying the component name.
func With(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}
