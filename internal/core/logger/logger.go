package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

type Field = zap.Field

func StringField(key, value string) Field { return zap.String(key, value) }

func ErrorField(key string, err error) Field { return zap.NamedError(key, err) }

func AnyField(key string, value any) Field { return zap.Any(key, value) }

func Int64Field(key string, value int64) Field { return zap.Int64(key, value) }

func IntField(key string, value int) Field { return zap.Int(key, value) }

func BoolField(key string, value bool) Field { return zap.Bool(key, value) }

func DurationField(key string, value time.Duration) Field { return zap.Duration(key, value) }

// NewLogger builds a JSON logger that sends info and below to the info sink and
// warn and above to the error sink. With an empty dir the sinks are stdout and
// stderr, otherwise info.log and error.log inside dir.
func NewLogger(dir, level string) (*zap.Logger, func(), error) {
	minLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	infoSink, errorSink := zapcore.AddSync(os.Stdout), zapcore.AddSync(os.Stderr)
	closers := []func() error{}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		infoFile, err := os.OpenFile(filepath.Join(dir, "info.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("open info log file: %w", err)
		}
		errorFile, err := os.OpenFile(filepath.Join(dir, "error.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			infoFile.Close()
			return nil, nil, fmt.Errorf("open error log file: %w", err)
		}
		infoSink, errorSink = zapcore.AddSync(infoFile), zapcore.AddSync(errorFile)
		closers = append(closers, infoFile.Close, errorFile.Close)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	infoCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		infoSink,
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= minLevel && lvl <= zapcore.InfoLevel
		}),
	)

	errorCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		errorSink,
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= minLevel && lvl >= zapcore.WarnLevel
		}),
	)

	logger := zap.New(zapcore.NewTee(infoCore, errorCore), zap.AddCaller())

	cleanup := func() {
		_ = logger.Sync()
		for _, c := range closers {
			_ = c()
		}
	}

	return logger, cleanup, nil
}

func NewNop() Logger {
	return zap.NewNop()
}
