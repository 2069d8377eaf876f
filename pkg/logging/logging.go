package logging

import (
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level describes severity of log message.
type Level int

const (
	// LevelInfo is default log level.
	LevelInfo Level = iota
	// LevelDebug enables verbose output.
	LevelDebug
	// LevelWarn hides informational messages.
	LevelWarn
	// LevelError only keeps errors.
	LevelError
)

// ParseLevel converts string to Level.
func ParseLevel(v string) Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a thin printf-style wrapper around a zap logger. It adds the
// success and critical levels used for user facing progress messages. A nil
// *Logger discards everything.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	// file is the log file opened by New, closed by Close.
	file *os.File
}

// New creates a configured logger writing to path, or stderr when path is
// empty. format "json" selects the JSON encoder, anything else the console one.
func New(path, format string, level Level) (*Logger, error) {
	sink := zapcore.Lock(os.Stderr)
	var file *os.File
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		file = f
		sink = zapcore.AddSync(f)
	}
	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if path != "" {
			cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(enc, sink, atom)
	return &Logger{sugar: zap.New(core).Named("brfwupd").Sugar(), level: atom, file: file}, nil
}

// FromZap wraps an existing zap logger, e.g. one built on zaptest/observer.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		return nil
	}
	return &Logger{sugar: z.Sugar(), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// Nop returns a logger that drops every message.
func Nop() *Logger {
	return FromZap(zap.NewNop())
}

// SetLevel changes the minimum level at runtime. Only loggers built by New honour it.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.SetLevel(level.zapLevel())
}

// With returns a child logger that adds key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sugar: l.sugar.With(keysAndValues...), level: l.level}
}

// Debugf logs verbose diagnostic messages.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Infof logs informational messages.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Successf logs a completed step. It is an info entry tagged outcome=success.
func (l *Logger) Successf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.With("outcome", "success").Infof(format, args...)
}

// Warnf logs warnings.
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Errorf logs errors.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Criticalf logs errors that end the run. It is an error entry tagged critical=true.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.With("critical", true).Errorf(format, args...)
}

// Printf keeps compatibility with standard log API.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.sugar.Sync()
}

// Close flushes buffered entries and closes the log file opened by New.
// Loggers derived with With share the file and leave it open.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if l.file == nil {
		_ = l.sugar.Sync()
		return nil
	}
	var result *multierror.Error
	if err := l.sugar.Sync(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := l.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	l.file = nil
	return result.ErrorOrNil()
}
