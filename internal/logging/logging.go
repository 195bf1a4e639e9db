// Package logging wires up the zerolog logger used throughout this
// module.
//
// Grounded on JohnPitter-concord's internal/observability/logger.go,
// simplified to this module's needs: a single console/JSON writer, no
// per-component sub-loggers.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level   zerolog.Level
	Pretty  bool
	Output  io.Writer
	Version string
}

// New builds a zerolog.Logger from cfg. A nil cfg.Output defaults to
// stderr, matching the teacher's console-writer default.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(cfg.Level)
	if cfg.Version != "" {
		logger = logger.With().Str("version", cfg.Version).Logger()
	}
	return logger
}
