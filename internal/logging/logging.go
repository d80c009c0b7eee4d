// Package logging builds the process-wide zap logger. Output goes to stderr
// or a log file, never stdout, which carries the hook protocol.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fakeyudi/stopgate/internal/config"
)

// New creates a logger from cfg. The returned close func flushes the logger
// and releases the log file, if any.
func New(cfg config.LogConfig) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var (
		out     io.Writer = os.Stderr
		closers []func() error
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closers = append(closers, f.Close)
	}

	logger := NewWithWriter(out, cfg.Format, level)
	closeFn := func() error {
		err := logger.Sync()
		if isStdoutSyncError(err) {
			err = nil
		}
		for _, c := range closers {
			err = errors.Join(err, c())
		}
		return err
	}
	return logger, closeFn, nil
}

// NewWithWriter builds a logger writing to w. Used by New and by tests.
func NewWithWriter(w io.Writer, format string, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(newEncoder(format), zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core).With(zap.Int("pid", os.Getpid()))
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
