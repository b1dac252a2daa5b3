package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/apkalias/internal/config"
)

// Logger writes structured JSON lines to .apkalias/logs/apkalias.log so
// users can inspect what a finalizer did after the build console is gone.
type Logger struct {
	zap  *zap.Logger
	path string
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, verbose bool) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.Dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "apkalias.log")

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.Sampling = nil
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return &Logger{zap: z, path: path}, nil
}

// Wrap adapts an existing zap logger, mainly for tests.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{zap: z}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop())
}

// Path returns the file backing this logger, if any.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Zap exposes the structured logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Close flushes buffered entries.
func (l *Logger) Close() error {
	if l == nil || l.zap == nil {
		return nil
	}
	// Sync on a plain file never fails in practice; stderr/stdout sinks
	// return EINVAL on some platforms, which is not worth surfacing.
	_ = l.zap.Sync()
	return nil
}

// Printf writes a single info line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.zap == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	l.zap.Info(line)
}
