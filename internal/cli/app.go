// Package cli implements the sessionctl maintenance tool: inspect a
// session's account record, list its update checkpoints, or delete it,
// on any of the storage engines.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mtkit/sessionstore/internal/cli/config"
	"github.com/mtkit/sessionstore/internal/logging"
	"github.com/mtkit/sessionstore/storage"
	"github.com/mtkit/sessionstore/storage/legacy"
	"github.com/mtkit/sessionstore/storage/postgres"
	"github.com/mtkit/sessionstore/storage/sqlite"
)

const usage = `usage: sessionctl [flags] <command> [args]

commands:
  init            create or migrate the session store
  info            print the account record
  peer <query>    resolve a peer by id, @username or +phone
  checkpoints     list update checkpoints
  delete          delete the session

flags:
  -e engine   sqlite (default), legacy or postgres
  -p path     session file path (embedded engines)
  -d dsn      postgres connection string
  -s name     session name (postgres engine)
  -w          write-ahead journal (sqlite engine)
  -v          verbose logging
`

// App wires a configured storage engine to the subcommands.
type App struct {
	cfg *config.Config
	log logging.Logger
	out io.Writer
}

// NewApp builds the tool around cfg, logging to stderr.
func NewApp(cfg *config.Config) *App {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	return &App{
		cfg: cfg,
		log: logging.NewZerologLogger(zl),
		out: os.Stdout,
	}
}

// Run executes the subcommand in args (flags already consumed by the
// config layer are skipped).
func (a *App) Run(ctx context.Context, args []string) error {
	cmd, rest := splitCommand(args)

	switch cmd {
	case "init":
		return a.withStore(ctx, func(ctx context.Context, s storage.Storage) error {
			// Opening created or migrated the store already.
			fmt.Fprintln(a.out, "ok")
			return nil
		})
	case "info":
		return a.withStore(ctx, a.info)
	case "peer":
		if len(rest) != 1 {
			return errors.New("peer: expected exactly one query argument")
		}
		return a.withStore(ctx, func(ctx context.Context, s storage.Storage) error {
			return a.peer(ctx, s, rest[0])
		})
	case "checkpoints":
		return a.withStore(ctx, a.checkpoints)
	case "delete":
		return a.withStore(ctx, func(ctx context.Context, s storage.Storage) error {
			return s.Delete(ctx)
		})
	case "":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// withStore opens the configured engine, runs fn, and closes the store.
func (a *App) withStore(ctx context.Context, fn func(ctx context.Context, s storage.Storage) error) error {
	s, closePool, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	if err := s.Open(ctx); err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	return fn(ctx, s)
}

func (a *App) openStore(ctx context.Context) (storage.Storage, func(), error) {
	switch a.cfg.Engine {
	case config.EngineSQLite:
		s := sqlite.New(a.cfg.Path, sqlite.Options{UseWAL: a.cfg.UseWAL, Logger: a.log})
		return s, func() {}, nil
	case config.EngineLegacy:
		s := legacy.New(a.cfg.Path, legacy.Options{Logger: a.log})
		return s, func() {}, nil
	case config.EnginePostgres:
		session := a.cfg.Session
		if session == "" {
			session = uuid.NewString()
			a.log.Info(ctx, "generated session name", "session", session)
		}
		pool, err := postgres.OpenPool(ctx, a.cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(pool, session, postgres.Options{Logger: a.log})
		return s, func() { pool.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine %q", a.cfg.Engine)
	}
}

func (a *App) info(ctx context.Context, s storage.Storage) error {
	dc, err := s.DCID(ctx)
	if err != nil {
		return err
	}
	apiID, err := s.APIID(ctx)
	if err != nil {
		return err
	}
	testMode, err := s.TestMode(ctx)
	if err != nil {
		return err
	}
	key, err := s.AuthKey(ctx)
	if err != nil {
		return err
	}
	saved, err := s.LastSavedAt(ctx)
	if err != nil {
		return err
	}
	userID, err := s.UserID(ctx)
	if err != nil {
		return err
	}
	isBot, err := s.IsBot(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "dc_id:         %d\n", dc)
	fmt.Fprintf(a.out, "api_id:        %s\n", orUnset(apiID))
	fmt.Fprintf(a.out, "test_mode:     %s\n", orUnset(testMode))
	fmt.Fprintf(a.out, "auth_key:      %d bytes\n", len(key))
	fmt.Fprintf(a.out, "last_saved_at: %d\n", saved)
	fmt.Fprintf(a.out, "user_id:       %s\n", orUnset(userID))
	fmt.Fprintf(a.out, "is_bot:        %s\n", orUnset(isBot))
	return nil
}

func (a *App) peer(ctx context.Context, s storage.Storage, query string) error {
	var (
		peer storage.InputPeer
		err  error
	)
	switch {
	case strings.HasPrefix(query, "@"):
		peer, err = s.PeerByUsername(ctx, strings.TrimPrefix(query, "@"))
	case strings.HasPrefix(query, "+"):
		peer, err = s.PeerByPhoneNumber(ctx, strings.TrimPrefix(query, "+"))
	default:
		id, convErr := strconv.ParseInt(query, 10, 64)
		if convErr != nil {
			return fmt.Errorf("peer: query %q is not an id, @username or +phone", query)
		}
		peer, err = s.PeerByID(ctx, id)
	}
	if err != nil {
		return err
	}

	switch p := peer.(type) {
	case storage.InputPeerUser:
		fmt.Fprintf(a.out, "user id=%d access_hash=%d\n", p.UserID, p.AccessHash)
	case storage.InputPeerChat:
		fmt.Fprintf(a.out, "chat id=%d\n", p.ChatID)
	case storage.InputPeerChannel:
		fmt.Fprintf(a.out, "channel id=%d access_hash=%d\n", p.ChannelID, p.AccessHash)
	}
	return nil
}

func (a *App) checkpoints(ctx context.Context, s storage.Storage) error {
	cps, err := s.ListCheckpoints(ctx)
	if errors.Is(err, storage.ErrNotSupported) {
		fmt.Fprintln(a.out, "checkpoints are not supported by this engine")
		return nil
	}
	if err != nil {
		return err
	}

	if len(cps) == 0 {
		fmt.Fprintln(a.out, "no checkpoints")
		return nil
	}
	for _, cp := range cps {
		fmt.Fprintf(a.out, "id=%d pts=%d qts=%d date=%d seq=%d\n", cp.ID, cp.Pts, cp.Qts, cp.Date, cp.Seq)
	}
	return nil
}

// splitCommand extracts the subcommand and its arguments from args,
// skipping the config flags and their values.
func splitCommand(args []string) (string, []string) {
	valueFlags := map[string]struct{}{
		"-e": {}, "-p": {}, "-d": {}, "-s": {},
	}

	var positionals []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if _, ok := valueFlags[arg]; ok {
				i++
			}
			continue
		}
		positionals = append(positionals, arg)
	}

	if len(positionals) == 0 {
		return "", nil
	}
	return positionals[0], positionals[1:]
}

// orUnset renders a nullable attribute.
func orUnset[T any](v *T) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprint(*v)
}
