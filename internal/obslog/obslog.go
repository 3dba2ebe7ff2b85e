// Package obslog builds the observer's zap logger and keeps the process-wide
// instance the binaries log through.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoder for every core.
type Format string

const (
	FormatLegacy  Format = "legacy"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Service is attached to every entry.
const Service = "cheese-observer"

// Options describes where and how the observer logs.
type Options struct {
	Level   zapcore.Level
	Format  Format
	Console bool
	File    string // empty disables the file core
	Caller  bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE and LOG_CALLER.
func OptionsFromEnv() Options {
	o := Options{
		Level:   parseLevel(getenv("LOG_LEVEL", "info")),
		Format:  parseFormat(getenv("LOG_FORMAT", string(FormatLegacy))),
		Console: isTrue(getenv("LOG_TO_CONSOLE", "true")),
		Caller:  isTrue(getenv("LOG_CALLER", "false")),
	}
	if isTrue(getenv("LOG_TO_FILE", "true")) {
		o.File = strings.TrimSpace(getenv("LOG_FILE", filepath.Join("logs", "observer.log")))
	}
	return o
}

var (
	mu      sync.RWMutex
	global  = zap.NewNop()
	logFile *os.File
)

// L returns the process-wide logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Component returns L named after one observer part, e.g. "hub" or "probe".
func Component(name string) *zap.Logger { return L().Named(name) }

// Set replaces the process-wide logger; nil resets it to a no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() { _ = L().Sync() }

// Close flushes and releases the log file opened by Init.
func Close() error {
	Sync()
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// InitFromEnv is Init(OptionsFromEnv()).
func InitFromEnv() error { return Init(OptionsFromEnv()) }

// Init builds the logger for o and installs it as L.
func Init(o Options) error {
	var cores []zapcore.Core
	if o.Console {
		cores = append(cores, zapcore.NewCore(encoder(o.Format), zapcore.AddSync(os.Stdout), o.Level))
	}
	var f *os.File
	if o.File != "" {
		if dir := filepath.Dir(o.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
		}
		var err error
		f, err = os.OpenFile(o.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder(o.Format), zapcore.AddSync(f), o.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(os.Stdout), o.Level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel), zap.Fields(zap.String("service", Service))}
	// legacy lines always carry the caller
	if o.Caller || o.Format == FormatLegacy {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)

	_ = Close()
	mu.Lock()
	global = logger
	logFile = f
	mu.Unlock()
	return nil
}

func encoder(f Format) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	switch f {
	case FormatJSON:
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case FormatConsole:
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func parseFormat(s string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatConsole:
		return f
	default:
		return FormatLegacy
	}
}

func parseLevel(s string) zapcore.Level {
	var l zapcore.Level
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func isTrue(s string) bool { return strings.EqualFold(strings.TrimSpace(s), "true") }

func getenv(k, def string) string {
	if v := os.Getenv(k); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
