// Package config loads walscope settings from the environment.
//
// Values come from WALSCOPE_* variables, optionally seeded from a .env file
// in the working directory. Command-line flags override whatever is loaded
// here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/pagemap"
	"github.com/FocuswithJustin/walscope/internal/logging"
)

// Environment variable names.
const (
	EnvBackupDir   = "WALSCOPE_BACKUP_DIR"
	EnvLogLevel    = "WALSCOPE_LOG_LEVEL"
	EnvLogFormat   = "WALSCOPE_LOG_FORMAT"
	EnvMaxDepth    = "WALSCOPE_MAX_DEPTH"
	EnvSearchLimit = "WALSCOPE_SEARCH_LIMIT"
	EnvListen      = "WALSCOPE_LISTEN"
	EnvNoPreserve  = "WALSCOPE_NO_PRESERVE"
)

// Defaults.
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "auto"
	DefaultSearchLimit = 1000
	DefaultListen      = "127.0.0.1:8765"
)

// Config is the resolved configuration.
type Config struct {
	BackupDir   string
	LogLevel    string
	LogFormat   string
	MaxDepth    int
	SearchLimit int
	Listen      string
	NoPreserve  bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		MaxDepth:    pagemap.DefaultMaxDepth,
		SearchLimit: DefaultSearchLimit,
		Listen:      DefaultListen,
	}
}

// Load reads the given .env files, or ".env" when none are named, and then
// the environment. A missing .env file is not an error. Variables already
// set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			return Config{}, errors.NewIO("load", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if v, ok := lookup(EnvBackupDir); ok {
		c.BackupDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.LogFormat = v
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}

	var err error
	if c.MaxDepth, err = intVar(lookup, EnvMaxDepth, c.MaxDepth); err != nil {
		return Config{}, err
	}
	if c.SearchLimit, err = intVar(lookup, EnvSearchLimit, c.SearchLimit); err != nil {
		return Config{}, err
	}
	if v, ok := lookup(EnvNoPreserve); ok && v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return Config{}, errors.NewValidation(EnvNoPreserve, fmt.Sprintf("not a boolean: %q", v))
		}
		c.NoPreserve = b
	}
	return c, c.Validate()
}

func intVar(lookup func(string) (string, bool), name string, def int) (int, error) {
	v, ok := lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.NewValidation(name, fmt.Sprintf("not an integer: %q", v))
	}
	return n, nil
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return errors.NewValidation("log level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}
	if _, ok := logging.ParseFormat(c.LogFormat); !ok {
		return errors.NewValidation("log format", fmt.Sprintf("unknown format %q", c.LogFormat))
	}
	if c.MaxDepth < 1 {
		return errors.NewValidation("max depth", "must be at least 1")
	}
	if c.SearchLimit < 0 {
		return errors.NewValidation("search limit", "must not be negative")
	}
	return nil
}

// InitLogging configures the global logger from c.
func (c Config) InitLogging() {
	level, _ := logging.ParseLevel(c.LogLevel)
	format, _ := logging.ParseFormat(c.LogFormat)
	logging.InitLogger(level, format)
}
