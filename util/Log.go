package util

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production json logger at level, writing to stdout and, if set, to file.
func NewLogger(level, file string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = `time`
	if level != `` {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, `log level %s`, level)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	if file != `` {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, errors.Wrap(err, `create log dir`)
		}
		config.OutputPaths = append(config.OutputPaths, file)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, `build logger`)
	}
	return logger, nil
}
