// Package legacy implements the session store over the older embedded
// schema that keeps peers and account metadata in a single entities
// table. Files written by clients on that schema migrate in place and
// keep working; new deployments should prefer the sqlite engine.
//
// The schema has no update-state ledger the checkpoint contract can be
// served from, so checkpoint operations report storage.ErrNotSupported.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/internal/logging"
	"github.com/mtkit/sessionstore/storage"
)

// Bootstrap values written into a fresh session file.
const (
	bootstrapDC      = 2
	bootstrapAddress = "149.154.167.51"
	bootstrapPort    = 443
)

// zeroChannelID marks the lower bound of the channel id range.
const zeroChannelID = -1_000_000_000_000

// Options tunes a Storage instance. The zero value is usable.
type Options struct {
	// Logger defaults to slog's default logger.
	Logger logging.Logger

	// ChannelID overrides the channel-id range transform used when
	// reconstructing channel peers. Defaults to storage.DefaultChannelID.
	ChannelID storage.ChannelIDFunc
}

// Storage is the engine for the older single-table schema. The schema
// has no columns for api id, test mode or the bot flag; those
// attributes live in memory and last for the life of the instance.
type Storage struct {
	path      string
	channelID storage.ChannelIDFunc
	log       logging.Logger

	db  *sql.DB
	now func() time.Time

	apiID    *int32
	testMode *bool
	isBot    *bool
}

var _ storage.Storage = (*Storage)(nil)

// New returns an unopened store for the session file at path.
func New(path string, opts Options) *Storage {
	log := opts.Logger
	if log == nil {
		log = logging.NewSlogLogger(slog.Default())
	}

	return &Storage{
		path:      path,
		channelID: opts.ChannelID,
		log:       log.With("engine", "legacy", "path", path),
		now:       time.Now,
	}
}

// Open creates the file at the current schema version, or migrates an
// existing one, then runs a compaction pass. Opening an already-open
// store is a no-op.
func (s *Storage) Open(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	_, statErr := os.Stat(s.path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 3000`); err != nil {
		db.Close()
		return fmt.Errorf("setting busy timeout: %w", err)
	}

	if fresh {
		err = s.create(ctx, db)
	} else {
		err = catalog().Upgrade(ctx, db, s.log)
	}
	if err != nil {
		db.Close()
		return err
	}

	// Space reclamation only; losing it costs nothing.
	if _, err := db.ExecContext(ctx, `VACUUM`); err != nil {
		s.log.Warn(ctx, "compaction after open failed", "error", err)
	}

	s.db = db
	s.log.Info(ctx, "session store opened", "fresh", fresh, "version", schemaVersion)
	return nil
}

func (s *Storage) create(ctx context.Context, db *sql.DB) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO version VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions VALUES (?, ?, ?, ?, ?)`,
			bootstrapDC, bootstrapAddress, bootstrapPort, nil, 0,
		); err != nil {
			return fmt.Errorf("creating session record: %w", err)
		}

		return nil
	})
}

// Save stamps the reserved entities row with the current time.
func (s *Storage) Save(ctx context.Context) error {
	return s.SetLastSavedAt(ctx, s.now().Unix())
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Delete closes the store and removes the session file.
func (s *Storage) Delete(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing before delete: %w", err)
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("removing session file: %w", err)
	}
	s.log.Info(ctx, "session deleted")
	return nil
}

// UpdatePeers replaces the whole entities row per peer; the stored
// username is cleared along the way, matching the schema's historical
// behavior. Kind is not stored, the id range carries it.
func (s *Storage) UpdatePeers(ctx context.Context, peers []storage.PeerUpdate) error {
	if len(peers) == 0 {
		return nil
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, p := range peers {
			if !p.Kind.Valid() {
				return fmt.Errorf("%w: %q", storage.ErrInvalidKind, p.Kind)
			}
			_, err := tx.ExecContext(ctx, `
				REPLACE INTO entities (id, hash, phone, name, date)
				VALUES (?, ?, ?, NULL, ?)`,
				p.ID, p.AccessHash, nullable(p.PhoneNumber), s.now().Unix(),
			)
			if err != nil {
				return fmt.Errorf("replacing entity %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

// UpdateUsernames stores at most one username per peer; the schema has
// a single username column. Rows for unknown peers are skipped.
func (s *Storage) UpdateUsernames(ctx context.Context, usernames []storage.UsernameUpdate) error {
	if len(usernames) == 0 {
		return nil
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, u := range usernames {
			var name any
			if len(u.Usernames) > 0 {
				name = u.Usernames[0]
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE entities SET username = ? WHERE id = ?`, name, u.PeerID,
			); err != nil {
				return fmt.Errorf("updating username for peer %d: %w", u.PeerID, err)
			}
		}
		return nil
	})
}

func (s *Storage) PeerByID(ctx context.Context, id int64) (storage.InputPeer, error) {
	var hash sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM entities WHERE id = ?`, id,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity %d: %w", id, err)
	}

	return storage.ResolveInputPeer(id, hash.Int64, kindFromID(id), s.channelID)
}

func (s *Storage) PeerByUsername(ctx context.Context, username string) (storage.InputPeer, error) {
	var (
		id   int64
		hash sql.NullInt64
		date sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, hash, date
		FROM entities
		WHERE username = ?
		ORDER BY date DESC
		LIMIT 1`,
		username,
	).Scan(&id, &hash, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying username %q: %w", username, err)
	}

	// Rows from before the date column existed have no timestamp and
	// count as expired.
	if !date.Valid || !storage.UsernameFresh(date.Int64, s.now()) {
		return nil, storage.ErrExpired
	}

	return storage.ResolveInputPeer(id, hash.Int64, kindFromID(id), s.channelID)
}

func (s *Storage) PeerByPhoneNumber(ctx context.Context, phone string) (storage.InputPeer, error) {
	var (
		id   int64
		hash sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hash FROM entities WHERE phone = ?`, phone,
	).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying phone number: %w", err)
	}

	return storage.ResolveInputPeer(id, hash.Int64, kindFromID(id), s.channelID)
}

func (s *Storage) ListCheckpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	return nil, storage.ErrNotSupported
}

func (s *Storage) UpsertCheckpoint(ctx context.Context, cp storage.Checkpoint) error {
	return storage.ErrNotSupported
}

func (s *Storage) DeleteCheckpoint(ctx context.Context, id int32) error {
	return storage.ErrNotSupported
}

func (s *Storage) DCID(ctx context.Context) (int32, error) {
	var v int32
	if err := s.db.QueryRowContext(ctx, `SELECT dc_id FROM sessions`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading dc_id: %w", err)
	}
	return v, nil
}

func (s *Storage) SetDCID(ctx context.Context, dcID int32) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET dc_id = ?`, dcID); err != nil {
		return fmt.Errorf("writing dc_id: %w", err)
	}
	return nil
}

func (s *Storage) APIID(ctx context.Context) (*int32, error) {
	return s.apiID, nil
}

func (s *Storage) SetAPIID(ctx context.Context, apiID int32) error {
	s.apiID = &apiID
	return nil
}

func (s *Storage) TestMode(ctx context.Context) (*bool, error) {
	return s.testMode, nil
}

func (s *Storage) SetTestMode(ctx context.Context, testMode bool) error {
	s.testMode = &testMode
	return nil
}

func (s *Storage) AuthKey(ctx context.Context) ([]byte, error) {
	var key []byte
	if err := s.db.QueryRowContext(ctx, `SELECT auth_key FROM sessions`).Scan(&key); err != nil {
		return nil, fmt.Errorf("reading auth_key: %w", err)
	}
	return key, nil
}

func (s *Storage) SetAuthKey(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET auth_key = ?`, key); err != nil {
		return fmt.Errorf("writing auth_key: %w", err)
	}
	return nil
}

// LastSavedAt reads the timestamp off the reserved entities row.
// Before the first Save or SetUserID there is no row and the zero
// default applies.
func (s *Storage) LastSavedAt(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT date FROM entities WHERE id = 0`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading saved-at timestamp: %w", err)
	}
	return v.Int64, nil
}

func (s *Storage) SetLastSavedAt(ctx context.Context, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, hash, date) VALUES (0, 0, ?)
		ON CONFLICT (id) DO UPDATE SET date = excluded.date`,
		ts,
	)
	if err != nil {
		return fmt.Errorf("writing saved-at timestamp: %w", err)
	}
	return nil
}

// UserID reads the account's user id off the reserved entities row,
// where it is stored in the hash column.
func (s *Storage) UserID(ctx context.Context) (*int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM entities WHERE id = 0`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading user_id: %w", err)
	}
	return &v, nil
}

func (s *Storage) SetUserID(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, hash, date) VALUES (0, ?, ?)
		ON CONFLICT (id) DO UPDATE SET hash = excluded.hash`,
		userID, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing user_id: %w", err)
	}
	return nil
}

func (s *Storage) IsBot(ctx context.Context) (*bool, error) {
	return s.isBot, nil
}

func (s *Storage) SetIsBot(ctx context.Context, isBot bool) error {
	s.isBot = &isBot
	return nil
}

// kindFromID maps an id to its numeric range: non-negative ids are
// users, ids below the channel bound are channels, the rest are basic
// groups. Bots and supergroups are indistinguishable here; the mapped
// kind reconstructs to the same wire identity.
func kindFromID(id int64) storage.PeerKind {
	switch {
	case id >= 0:
		return storage.KindUser
	case id <= zeroChannelID:
		return storage.KindChannel
	default:
		return storage.KindGroup
	}
}

// nullable maps the empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
