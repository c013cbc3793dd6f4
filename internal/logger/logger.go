// Package logger builds the process logger: a logr front end over zap that
// writes human readable lines to stderr. Stdout belongs to the MCP channel.
package logger

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DONTBUG_LOG_FILE names a file that receives a copy of every log line.
const DONTBUG_LOG_FILE = "DONTBUG_LOG_FILE"

type Logger struct {
	logr.Logger
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New logger writing to stderr, plus the file named by DONTBUG_LOG_FILE
// when set.
func New(name string) *Logger {
	out := zapcore.Lock(os.Stderr)
	if path, found := os.LookupEnv(DONTBUG_LOG_FILE); found && path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
			out = zapcore.NewMultiWriteSyncer(out, zapcore.AddSync(f))
		}
	}
	return newLogger(name, out)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(name string, w io.Writer) *Logger {
	return newLogger(name, zapcore.AddSync(w))
}

func newLogger(name string, out zapcore.WriteSyncer) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	atomicLevel := zap.NewAtomicLevel()
	zapLogger := zap.New(zapcore.NewCore(consoleEncoder, out, atomicLevel))

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		atomicLevel: atomicLevel,
		flush: func() {
			_ = zapLogger.Sync() // Best effort
		},
	}
}

// SetVerbosity maps logr verbosity v onto the zap level -v, so V(2) lines
// appear once verbosity is 2 or more.
func (l *Logger) SetVerbosity(v int) {
	if v < 0 {
		v = 0
	}
	l.atomicLevel.SetLevel(zapcore.Level(-v))
}

func (l *Logger) Flush() {
	l.flush()
}
