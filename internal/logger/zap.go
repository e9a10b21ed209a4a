package logger

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZap builds the node logger. Entries go to stderr as JSON and, when file
// is set, are appended to that file as well.
func NewZap(level, file string) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, errors.Wrapf(err, "log level %q", level)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build zap logger")
	}
	return log, nil
}

// Tee mirrors every entry at or above info into the feed.
func Tee(log *zap.Logger, feed *Feed) *zap.Logger {
	if feed == nil {
		return log
	}
	return log.WithOptions(zap.Hooks(func(e zapcore.Entry) error {
		switch {
		case e.Level >= zapcore.ErrorLevel:
			feed.Error(e.Message)
		case e.Level == zapcore.WarnLevel:
			feed.Warning(e.Message)
		case e.Level == zapcore.InfoLevel:
			feed.Info(e.Message)
		}
		return nil
	}))
}
