// Package config loads runtime configuration.
//
// Sources are layered, later wins: built-in defaults, an optional
// strata.yaml file, STRATA_-prefixed environment variables, then any
// command-line flags the caller binds.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the default config file looked up in the working
// directory when no explicit path is given.
const ConfigFileName = "strata.yaml"

// Config is the full runtime configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `koanf:"addr"`
	// DBPath is the SQLite database file.
	DBPath string `koanf:"db_path"`
	// MaxDepth bounds schema and document nesting.
	MaxDepth int `koanf:"max_depth"`
	// LockTimeout bounds waits on per-structure schema locks.
	LockTimeout time.Duration `koanf:"lock_timeout"`
	// EventBuffer is the per-subscriber change event buffer.
	EventBuffer int `koanf:"event_buffer"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:        "127.0.0.1:8085",
		DBPath:      "strata.db",
		MaxDepth:    8,
		LockTimeout: 5 * time.Second,
		EventBuffer: 64,
		LogLevel:    "info",
	}
}

// Load builds the configuration from all sources. path may be empty, in
// which case ConfigFileName is used if it exists; a non-empty path that
// does not exist is an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	def := Default()
	defaults := map[string]any{
		"addr":         def.Addr,
		"db_path":      def.DBPath,
		"max_depth":    def.MaxDepth,
		"lock_timeout": def.LockTimeout,
		"event_buffer": def.EventBuffer,
		"log_level":    def.LogLevel,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = ConfigFileName
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	// STRATA_DB_PATH → db_path
	if err := k.Load(env.Provider("STRATA_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "STRATA_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
