// Package config holds runtime settings for the sessionctl tool.
// Sources are applied in order: defaults, a .env overlay, then
// command-line flags. Later sources win.
package config

import "os"

// Engine names accepted by the -e flag.
const (
	EngineSQLite   = "sqlite"
	EngineLegacy   = "legacy"
	EnginePostgres = "postgres"
)

// Config holds runtime settings for sessionctl.
//
// Fields:
//   - Engine: storage engine to operate on (sqlite, legacy, postgres).
//   - Path: session file path for the embedded engines.
//   - DSN: connection string for the postgres engine.
//   - Session: session name for the postgres engine.
//   - UseWAL: write-ahead journal on the sqlite engine.
//   - Verbose: debug-level console logging.
type Config struct {
	Engine  string
	Path    string
	DSN     string
	Session string
	UseWAL  bool
	Verbose bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Engine = EngineSQLite
	c.Path = "main.session"
	c.Session = "main"
}

// LoadConfig constructs a Config, applies defaults, then overlays
// values from the environment (with an optional .env file) and
// command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseFlags(cfg, os.Args[1:])
	return cfg
}
