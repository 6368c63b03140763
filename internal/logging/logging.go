// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the optional log file
const (
	maxSizeMB  = 100
	maxBackups = 5
	maxAgeDays = 14
)

// New returns a JSON logger writing to stdout and, when cfg.LogFile is set,
// to a size-rotated file. An unknown level falls back to info.
func New(cfg config.ServerConfig) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, file))
		closer = file
	} else {
		logger.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
