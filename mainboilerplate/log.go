// Package mainboilerplate collects the small pieces of CLI scaffolding
// shared by this module's commands: logging configuration and go-flags
// parse-or-die helpers, following examples/word-count/wordcountctl's usage
// contract (mbp.LogConfig, mbp.Must, mbp.MustParseArgs).
package mainboilerplate

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// LogConfig configures the process-wide logrus logger from CLI flags or
// environment variables (group:"Logging" namespace:"log" env-namespace:"LOG",
// per the word-count CLI's Config struct).
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" description:"Logging level: debug, info, warn, error"`
	Format string `long:"format" env:"FORMAT" default:"text" description:"Logging format: text, json"`
}

// Configure applies c to the standard logrus logger. Call it once, after
// flags are parsed and before any component logs.
func (c LogConfig) Configure() {
	switch c.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}

	var level, err = log.ParseLevel(c.Level)
	if err != nil {
		log.WithField("level", c.Level).Warn("unrecognized log level, defaulting to info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
}
