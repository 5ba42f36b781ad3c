package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var std = logrus.StandardLogger()

type (
	FieldLogger = logrus.FieldLogger
	Logger      = logrus.Logger
	Fields      = logrus.Fields
	Level       = logrus.Level
)

type LoggerOpt func(*Logger)

func New(opts ...LoggerOpt) *Logger {
	l := logrus.New()
	for _, o := range opts {
		o(l)
	}
	return l
}

func SetLogger(l *Logger) *Logger {
	std = l
	return std
}

func GetLogger() *Logger {
	return std
}

// WithEnv will configure the logger using environment variables.
//
// LOG_LEVEL picks the level and LOG_FORMAT picks between "text" (the default
// for a terminal tool) and "json".
func WithEnv() LoggerOpt {
	lvl, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		std.Fatalf("Error: %v", err)
	}
	format, err := parseFormat(os.Getenv("LOG_FORMAT"))
	if err != nil {
		std.Fatalf("Error: %v", err)
	}
	return func(l *Logger) {
		WithLevel(lvl)(l)
		WithFormat(format)(l)
	}
}

func WithServiceName(name string) LoggerOpt {
	return func(l *Logger) {
		l.AddHook(&fieldsHook{fields: Fields{
			"service": name,
		}})
	}
}

func WithOutput(w io.Writer) LoggerOpt {
	return func(l *Logger) { l.SetOutput(w) }
}

const (
	PanicLevel Level = logrus.PanicLevel
	FatalLevel Level = logrus.FatalLevel
	ErrorLevel Level = logrus.ErrorLevel
	WarnLevel  Level = logrus.WarnLevel
	InfoLevel  Level = logrus.InfoLevel
	DebugLevel Level = logrus.DebugLevel
	TraceLevel Level = logrus.TraceLevel
)

func WithLevel(level Level) LoggerOpt { return func(l *Logger) { l.SetLevel(level) } }

// ParseLevel converts a level name into a Level. The empty string is info.
func ParseLevel(l string) (Level, error) { return parseLevel(l) }

type Format int

const (
	JSONFormat Format = iota
	TextFormat
)

var (
	TextFormatter = logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.Kitchen}
	JSONFormatter = logrus.JSONFormatter{TimestampFormat: time.RFC3339}
)

func WithFormat(format Format) LoggerOpt {
	return func(l *Logger) {
		switch format {
		case JSONFormat:
			l.SetFormatter(&JSONFormatter)
		case TextFormat:
			l.SetFormatter(&TextFormatter)
		}
	}
}

func parseFormat(f string) (Format, error) {
	switch strings.ToLower(f) {
	case "text", "":
		return TextFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return TextFormat, fmt.Errorf("invalid logging format %q", f)
	}
}

func parseLevel(l string) (Level, error) {
	switch strings.ToLower(l) {
	case "":
		return InfoLevel, nil
	case "panic":
		return PanicLevel, nil
	case "fatal":
		return FatalLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "trace":
		return TraceLevel, nil
	default:
		return TraceLevel, fmt.Errorf("invalid logging level %q", l)
	}
}

// GetOutput returns the writer named by the environment variable envkey.
// Accepts "stdout", "stderr", their file descriptor numbers, or a file path
// which is opened for appending. Unset means stderr.
func GetOutput(envkey string) io.Writer {
	out, ok := os.LookupEnv(envkey)
	if !ok || len(out) == 0 {
		return os.Stderr
	}
	fdout := strings.ToLower(out)
	if fdout == "1" || fdout == "stdout" {
		return os.Stdout
	} else if fdout == "2" || fdout == "stderr" {
		return os.Stderr
	}
	file, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		std.Warnf("failed to open log file: %v", err)
		return os.Stderr
	}
	return file
}

type contextKey string

var loggerKey = contextKey("_logger")

func FromContext(ctx context.Context) logrus.FieldLogger {
	res := ctx.Value(loggerKey)
	if res == nil {
		return std
	}
	return res.(logrus.FieldLogger)
}

func StashedInContext(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

type fieldsHook struct {
	fields Fields
}

func (h *fieldsHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fieldsHook) Fire(e *logrus.Entry) error {
	for k, v := range h.fields {
		e.Data[k] = v
	}
	return nil
}

var _ logrus.Hook = (*fieldsHook)(nil)
