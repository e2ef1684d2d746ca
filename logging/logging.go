// Package logging configures the global zerolog logger.
//
// With a log file configured, records go to the file as JSON; the stdout
// option mirrors them to the process output as well, which is what
// container deployments collect.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/maxpert/logcursor/cfg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger for c. The returned closer releases the log file.
func New(c cfg.LoggingConfiguration, instanceID string) (zerolog.Logger, io.Closer, error) {
	var stdout io.Writer = zerolog.NewConsoleWriter()
	if c.Format == "json" {
		stdout = os.Stdout
	}

	writer := stdout
	var closer io.Closer = nopCloser{}

	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0755); err != nil {
			return zerolog.Logger{}, nil, err
		}
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		closer = f

		writer = f
		if c.Stdout {
			writer = zerolog.MultiLevelWriter(f, stdout)
		}
	}

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", instanceID).
		Logger()

	if c.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	return logger, closer, nil
}

// Setup installs the logger for c as the global log.Logger
func Setup(c cfg.LoggingConfiguration, instanceID string) (io.Closer, error) {
	logger, closer, err := New(c, instanceID)
	if err != nil {
		return nil, err
	}
	log.Logger = logger
	return closer, nil
}
