package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// parseEnv overlays Config fields from SESSIONCTL_* environment
// variables, loading a .env file first if one exists in the working
// directory. A missing .env file is not an error.
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("SESSIONCTL_ENGINE"); ok {
		cfg.Engine = v
	}
	if v, ok := os.LookupEnv("SESSIONCTL_PATH"); ok {
		cfg.Path = v
	}
	if v, ok := os.LookupEnv("SESSIONCTL_DSN"); ok {
		cfg.DSN = v
	}
	if v, ok := os.LookupEnv("SESSIONCTL_SESSION"); ok {
		cfg.Session = v
	}
	if v, ok := os.LookupEnv("SESSIONCTL_USE_WAL"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseWAL = b
		}
	}
	if v, ok := os.LookupEnv("SESSIONCTL_VERBOSE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}
}
