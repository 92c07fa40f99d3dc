// Package sqlite implements the session store on a single embedded
// database file. One file holds one session; all operations are
// serialized over a single connection.
package sqlite

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

// Options tunes a Storage instance. The zero value is usable.
type Options struct {
	// UseWAL switches the journal to write-ahead logging, which copes
	// better with a concurrent reader process.
	UseWAL bool

	// Logger defaults to slog's default logger.
	Logger logging.Logger

	// ChannelID overrides the channel-id range transform used when
	// reconstructing channel peers. Defaults to storage.DefaultChannelID.
	ChannelID storage.ChannelIDFunc
}

// Storage is the embedded single-file engine.
type Storage struct {
	path      string
	useWAL    bool
	channelID storage.ChannelIDFunc
	log       logging.Logger

	db  *sql.DB
	now func() time.Time
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
		useWAL:    opts.UseWAL,
		channelID: opts.ChannelID,
		log:       log.With("engine", "sqlite", "path", path),
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

	// One connection serializes every operation against this session.
	db.SetMaxOpenConns(1)

	// Bounded wait on a storage-level lock held by another process,
	// e.g. a simultaneous first open. Fail fast rather than hang.
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 3000`); err != nil {
		db.Close()
		return fmt.Errorf("setting busy timeout: %w", err)
	}

	if s.useWAL {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
			db.Close()
			return fmt.Errorf("enabling WAL mode: %w", err)
		}
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

// create writes the current schema directly, bypassing the migration
// history, and inserts the bootstrap account record.
func (s *Storage) create(ctx context.Context, db *sql.DB) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (number) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account (dc_id, last_saved_at) VALUES (?, ?)`, 2, 0,
		); err != nil {
			return fmt.Errorf("creating account record: %w", err)
		}

		return nil
	})
}

// Save stamps the account record with the current time.
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

func (s *Storage) UpdatePeers(ctx context.Context, peers []storage.PeerUpdate) error {
	if len(peers) == 0 {
		return nil
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, p := range peers {
			if !p.Kind.Valid() {
				return fmt.Errorf("%w: %q", storage.ErrInvalidKind, p.Kind)
			}
			// last_update_on is maintained by the column default and
			// the update trigger, never written here.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO peers (id, access_hash, kind, phone_number)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					access_hash  = excluded.access_hash,
					kind         = excluded.kind,
					phone_number = excluded.phone_number`,
				p.ID, p.AccessHash, string(p.Kind), nullable(p.PhoneNumber),
			)
			if err != nil {
				return fmt.Errorf("upserting peer %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (s *Storage) UpdateUsernames(ctx context.Context, usernames []storage.UsernameUpdate) error {
	if len(usernames) == 0 {
		return nil
	}

	// Full replace per id: clear, then insert the new set.
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, u := range usernames {
			if _, err := tx.ExecContext(ctx, `DELETE FROM usernames WHERE id = ?`, u.PeerID); err != nil {
				return fmt.Errorf("clearing usernames for peer %d: %w", u.PeerID, err)
			}
			for _, name := range u.Usernames {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO usernames (id, username) VALUES (?, ?)`, u.PeerID, name,
				); err != nil {
					return fmt.Errorf("inserting username for peer %d: %w", u.PeerID, err)
				}
			}
		}
		return nil
	})
}

func (s *Storage) PeerByID(ctx context.Context, id int64) (storage.InputPeer, error) {
	var (
		hash sql.NullInt64
		kind string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_hash, kind FROM peers WHERE id = ?`, id,
	).Scan(&hash, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying peer %d: %w", id, err)
	}

	return storage.ResolveInputPeer(id, hash.Int64, storage.PeerKind(kind), s.channelID)
}

func (s *Storage) PeerByUsername(ctx context.Context, username string) (storage.InputPeer, error) {
	var (
		id           int64
		hash         sql.NullInt64
		kind         string
		lastUpdateOn int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.access_hash, p.kind, p.last_update_on
		FROM peers p
		JOIN usernames u ON p.id = u.id
		WHERE u.username = ?
		ORDER BY p.last_update_on DESC
		LIMIT 1`,
		username,
	).Scan(&id, &hash, &kind, &lastUpdateOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying username %q: %w", username, err)
	}

	if !storage.UsernameFresh(lastUpdateOn, s.now()) {
		return nil, storage.ErrExpired
	}

	return storage.ResolveInputPeer(id, hash.Int64, storage.PeerKind(kind), s.channelID)
}

func (s *Storage) PeerByPhoneNumber(ctx context.Context, phone string) (storage.InputPeer, error) {
	var (
		id   int64
		hash sql.NullInt64
		kind string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, access_hash, kind FROM peers WHERE phone_number = ?`, phone,
	).Scan(&id, &hash, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying phone number: %w", err)
	}

	return storage.ResolveInputPeer(id, hash.Int64, storage.PeerKind(kind), s.channelID)
}

func (s *Storage) ListCheckpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pts, qts, date, seq FROM checkpoints ORDER BY date ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var result []storage.Checkpoint
	for rows.Next() {
		var cp storage.Checkpoint
		if err := rows.Scan(&cp.ID, &cp.Pts, &cp.Qts, &cp.Date, &cp.Seq); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Storage) UpsertCheckpoint(ctx context.Context, cp storage.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, pts, qts, date, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			pts  = excluded.pts,
			qts  = excluded.qts,
			date = excluded.date,
			seq  = excluded.seq`,
		cp.ID, cp.Pts, cp.Qts, cp.Date, cp.Seq,
	)
	if err != nil {
		return fmt.Errorf("upserting checkpoint %d: %w", cp.ID, err)
	}
	return nil
}

func (s *Storage) DeleteCheckpoint(ctx context.Context, id int32) error {
	// Deleting an absent checkpoint is fine.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting checkpoint %d: %w", id, err)
	}
	return nil
}

func (s *Storage) DCID(ctx context.Context) (int32, error) {
	var v int32
	if err := s.db.QueryRowContext(ctx, `SELECT dc_id FROM account`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading dc_id: %w", err)
	}
	return v, nil
}

func (s *Storage) SetDCID(ctx context.Context, dcID int32) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET dc_id = ?`, dcID); err != nil {
		return fmt.Errorf("writing dc_id: %w", err)
	}
	return nil
}

func (s *Storage) APIID(ctx context.Context) (*int32, error) {
	var v sql.NullInt32
	if err := s.db.QueryRowContext(ctx, `SELECT api_id FROM account`).Scan(&v); err != nil {
		return nil, fmt.Errorf("reading api_id: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int32, nil
}

func (s *Storage) SetAPIID(ctx context.Context, apiID int32) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET api_id = ?`, apiID); err != nil {
		return fmt.Errorf("writing api_id: %w", err)
	}
	return nil
}

func (s *Storage) TestMode(ctx context.Context) (*bool, error) {
	var v sql.NullBool
	if err := s.db.QueryRowContext(ctx, `SELECT test_mode FROM account`).Scan(&v); err != nil {
		return nil, fmt.Errorf("reading test_mode: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Bool, nil
}

func (s *Storage) SetTestMode(ctx context.Context, testMode bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET test_mode = ?`, testMode); err != nil {
		return fmt.Errorf("writing test_mode: %w", err)
	}
	return nil
}

func (s *Storage) AuthKey(ctx context.Context) ([]byte, error) {
	var key []byte
	if err := s.db.QueryRowContext(ctx, `SELECT auth_key FROM account`).Scan(&key); err != nil {
		return nil, fmt.Errorf("reading auth_key: %w", err)
	}
	return key, nil
}

func (s *Storage) SetAuthKey(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET auth_key = ?`, key); err != nil {
		return fmt.Errorf("writing auth_key: %w", err)
	}
	return nil
}

func (s *Storage) LastSavedAt(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT last_saved_at FROM account`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading last_saved_at: %w", err)
	}
	return v, nil
}

func (s *Storage) SetLastSavedAt(ctx context.Context, ts int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET last_saved_at = ?`, ts); err != nil {
		return fmt.Errorf("writing last_saved_at: %w", err)
	}
	return nil
}

func (s *Storage) UserID(ctx context.Context) (*int64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT user_id FROM account`).Scan(&v); err != nil {
		return nil, fmt.Errorf("reading user_id: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int64, nil
}

func (s *Storage) SetUserID(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET user_id = ?`, userID); err != nil {
		return fmt.Errorf("writing user_id: %w", err)
	}
	return nil
}

func (s *Storage) IsBot(ctx context.Context) (*bool, error) {
	var v sql.NullBool
	if err := s.db.QueryRowContext(ctx, `SELECT is_bot FROM account`).Scan(&v); err != nil {
		return nil, fmt.Errorf("reading is_bot: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Bool, nil
}

func (s *Storage) SetIsBot(ctx context.Context, isBot bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE account SET is_bot = ?`, isBot); err != nil {
		return fmt.Errorf("writing is_bot: %w", err)
	}
	return nil
}

// nullable maps the empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
