// Package logger provides structured logging for the teaching assistant.
// It keeps a small field-based API on top of logrus so call sites never
// depend on the backend directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general operational information.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
	// LevelFatal is for fatal errors that require program termination.
	LevelFatal
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toLogrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// Common field constructors for convenience.
func String(key, value string) Field          { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }

// Err creates an error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any creates a field with any value.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the main logger type. It is safe for concurrent use.
type Logger struct {
	entry      *logrus.Entry
	level      Level
	addCaller  bool
	callerSkip int
}

// Options configures the logger.
type Options struct {
	Output     io.Writer
	Level      Level
	AddCaller  bool
	CallerSkip int

	// Format is "json" (default) or "text".
	Format string

	// FilePath, when set, duplicates output into this file (directories are created).
	FilePath string
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output:     os.Stdout,
		Level:      LevelInfo,
		AddCaller:  true,
		CallerSkip: 0,
		Format:     "json",
	}
}

// New creates a new Logger with the given options. A log file that cannot be
// opened is reported on the console output and otherwise ignored.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	out := opts.Output
	if opts.FilePath != "" {
		if f, err := openLogFile(opts.FilePath); err == nil {
			out = io.MultiWriter(opts.Output, f)
		} else {
			fmt.Fprintf(opts.Output, "logger: cannot open %s: %v\n", opts.FilePath, err)
		}
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(opts.Level.toLogrusLevel())
	base.SetFormatter(formatter(opts.Format))

	return &Logger{
		entry:      logrus.NewEntry(base),
		level:      opts.Level,
		addCaller:  opts.AddCaller,
		callerSkip: opts.CallerSkip,
	}
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	opts := DefaultOptions()
	opts.Output = io.Discard
	opts.AddCaller = false
	return New(opts)
}

// With returns a new Logger with the given fields added.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{
		entry:      l.entry.WithFields(toLogrus(fields)),
		level:      l.level,
		addCaller:  l.addCaller,
		callerSkip: l.callerSkip,
	}
}

// WithLevel returns a new Logger with the specified minimum log level.
// The returned logger shares output and fields but not the level.
func (l *Logger) WithLevel(level Level) *Logger {
	base := logrus.New()
	base.SetOutput(l.entry.Logger.Out)
	base.SetFormatter(l.entry.Logger.Formatter)
	base.SetLevel(level.toLogrusLevel())

	return &Logger{
		entry:      logrus.NewEntry(base).WithFields(l.entry.Data),
		level:      level,
		addCaller:  l.addCaller,
		callerSkip: l.callerSkip,
	}
}

// Level returns the minimum level of the logger.
func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	entry := l.entry
	if len(fields) > 0 {
		entry = entry.WithFields(toLogrus(fields))
	}

	if l.addCaller {
		if _, file, line, ok := runtime.Caller(2 + l.callerSkip); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			entry = entry.WithField("caller", fmt.Sprintf("%s:%d", file, line))
		}
	}

	switch level {
	case LevelDebug:
		entry.Debug(msg)
	case LevelInfo:
		entry.Info(msg)
	case LevelWarn:
		entry.Warn(msg)
	case LevelError:
		entry.Error(msg)
	case LevelFatal:
		entry.Fatal(msg)
	}
}

func toLogrus(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(LevelError, msg, fields...)
}

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

// WithRequestID returns a logger with request ID field added.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// Domain logging helpers.
func Component(name string) Field    { return String("component", name) }
func Latency(d time.Duration) Field  { return Duration("latency", d) }
func DocumentType(t string) Field    { return String("document_type", t) }
func StudentName(name string) Field  { return String("student_name", name) }
func Attempt(n int) Field            { return Int("attempt", n) }
func OutputPath(path string) Field   { return String("output_path", path) }
func RecordCount(n int) Field        { return Int("records", n) }
func Model(name string) Field        { return String("model", name) }
func Table(name string) Field        { return String("table", name) }
func WaitTime(d time.Duration) Field { return Duration("wait", d) }
