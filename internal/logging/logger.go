package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel converts a string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a structured key/value logger backed by zerolog.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"`
	JSONFormat  bool   `json:"json_format"`
	MaxSizeMB   int    `json:"max_size_mb"` // rotation settings, file output only
	MaxBackups  int    `json:"max_backups"`
	MaxAgeDays  int    `json:"max_age_days"`
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	return NewWithWriter(cfg, outputWriter(cfg))
}

// NewWithWriter builds a logger that writes to w instead of cfg.Output.
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: cfg.Output != "stdout" && cfg.Output != ""}
	}

	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	if cfg.IncludeFile {
		ctx = ctx.CallerWithSkipFrameCount(4)
	}
	return &Logger{zl: ctx.Logger()}
}

func outputWriter(cfg *Config) io.Writer {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// Default returns the default logger instance
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(&Config{
			Level:      "INFO",
			Output:     "stdout",
			Component:  "app",
			JSONFormat: true,
		})
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Zerolog exposes the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// WithComponent returns a new logger with the specified component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithTraceID returns a new logger with the specified trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{zl: l.zl.With().Str("trace_id", traceID).Logger()}
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// WithError returns a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithDuration returns a new logger with duration field
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{zl: l.zl.With().Str("duration", d.String()).Logger()}
}

// log writes args as key/value pairs. A pair whose key is not a string,
// or a trailing value without a key, is kept under "args".
func (l *Logger) log(ev *zerolog.Event, msg string, args ...interface{}) {
	if ev == nil {
		return
	}

	var extra []interface{}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			extra = append(extra, args[i:min(i+2, len(args))]...)
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Str(key, v.String())
		default:
			ev = ev.Interface(key, v)
		}
	}
	if len(extra) > 0 {
		ev = ev.Interface("args", extra)
	}
	ev.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, args...)
	os.Exit(1)
}

// Package-level functions for default logger

// Debug logs a debug message using the default logger
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}

// Info logs an info message using the default logger
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs an error message using the default logger
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// Fatal logs a fatal message using the default logger
func Fatal(msg string, args ...interface{}) {
	Default().Fatal(msg, args...)
}

// WithComponent returns a new logger with the specified component
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}

// WithField returns a new logger with an additional field
func WithField(key string, value interface{}) *Logger {
	return Default().WithField(key, value)
}

// OrDefault returns l, or the default logger scoped to component when l is nil.
func OrDefault(l *Logger, component string) *Logger {
	if l == nil {
		return Default().WithComponent(component)
	}
	return l.WithComponent(component)
}
