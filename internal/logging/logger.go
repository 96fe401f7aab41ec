// Package logging configures the process-wide zerolog logger and hands out
// per-component sub-loggers. Every long-lived component gets its own logger
// via Component so log lines carry a stable "component" field.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Console    bool   `json:"console"`     // human-readable console output instead of JSON
	TimeFormat string `json:"time_format"` // defaults to RFC3339
}

var (
	root zerolog.Logger
	once sync.Once
)

// Init builds the root logger from config. Safe to call once at startup;
// later calls are ignored.
func Init(cfg Config) {
	once.Do(func() {
		root = build(cfg)
	})
}

func build(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339
	}
	zerolog.TimeFieldFormat = tf

	var out io.Writer = os.Stdout
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Root returns the root logger, initializing with defaults if Init was
// never called (useful in tests).
func Root() zerolog.Logger {
	once.Do(func() {
		root = build(Config{Level: "info"})
	})
	return root
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Root().With().Str("component", name).Logger()
}
