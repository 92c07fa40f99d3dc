package config

import (
	"flag"

	"github.com/mtkit/sessionstore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-e string   storage engine: sqlite, legacy or postgres
//	-p string   session file path (embedded engines)
//	-d string   postgres connection string
//	-s string   session name (postgres engine)
//	-w          use a write-ahead journal (sqlite engine)
//	-v          verbose logging
//
// Args are filtered through flagx.FilterArgs so the subcommand and its
// arguments do not interfere with flag parsing.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-e", "-p", "-d", "-s", "-w", "-v"})

	fs := flag.NewFlagSet("sessionctl", flag.ContinueOnError)

	fs.StringVar(&cfg.Engine, "e", cfg.Engine, "storage engine: sqlite, legacy or postgres")
	fs.StringVar(&cfg.Path, "p", cfg.Path, "session file path (embedded engines)")
	fs.StringVar(&cfg.DSN, "d", cfg.DSN, "postgres connection string")
	fs.StringVar(&cfg.Session, "s", cfg.Session, "session name (postgres engine)")
	fs.BoolVar(&cfg.UseWAL, "w", cfg.UseWAL, "use a write-ahead journal (sqlite engine)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
