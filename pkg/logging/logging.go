package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// Rotation limits of the log file.
const (
	maxSizeMB  = 100
	maxBackups = 5
	maxAgeDays = 28
)

// Setup builds the service logger. Logs go to stderr and, when cfg.File is
// set, also to a rotated file.
func Setup(cfg types.LogConfig, fields log.Fields) (log.FieldLogger, io.Closer, error) {
	return setup(cfg, fields, os.Stderr)
}

func setup(cfg types.LogConfig, fields log.Fields, stderr io.Writer) (log.FieldLogger, io.Closer, error) {
	logger := log.New()

	levelStr := cfg.Level
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "01-02-2006 15:04:05",
		})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q: use text or json", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	logger.SetOutput(stderr)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(stderr, file))
		closer = file
	}

	return logger.WithFields(fields), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
