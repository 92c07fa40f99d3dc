// Package postgres implements the session store on a shared PostgreSQL
// database. Many sessions live in one database; every row is scoped by
// a session name and removed with the account via cascading deletes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/internal/logging"
	"github.com/mtkit/sessionstore/storage"
)

// Options tunes a Storage instance. The zero value is usable.
type Options struct {
	// Logger defaults to slog's default logger.
	Logger logging.Logger

	// ChannelID overrides the channel-id range transform used when
	// reconstructing channel peers. Defaults to storage.DefaultChannelID.
	ChannelID storage.ChannelIDFunc
}

// Storage is the server engine for one named session. Instances share
// the *sql.DB pool; Close never closes it.
type Storage struct {
	db        *sql.DB
	session   string
	channelID storage.ChannelIDFunc
	log       logging.Logger

	// mu serializes account writes for this session. Concurrent
	// clients of the same session race otherwise, the database
	// resolves row conflicts but not read-modify-write sequences.
	mu sync.Mutex

	now func() time.Time
}

var _ storage.Storage = (*Storage)(nil)

// OpenPool opens and verifies a pgx connection pool for the given DSN.
// The pool is shared by every Storage bound to it; the caller owns and
// eventually closes it.
func OpenPool(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection pool: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// New returns an unopened store for the named session over db.
func New(db *sql.DB, session string, opts Options) *Storage {
	log := opts.Logger
	if log == nil {
		log = logging.NewSlogLogger(slog.Default())
	}

	return &Storage{
		db:        db,
		session:   session,
		channelID: opts.ChannelID,
		log:       log.With("engine", "postgres", "session", session),
		now:       time.Now,
	}
}

// Open creates the shared schema if the database is empty, migrates it
// otherwise, and ensures this session's account record exists.
func (s *Storage) Open(ctx context.Context) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT to_regclass('public.schema_version') IS NOT NULL`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("probing schema: %w", err)
	}

	if !exists {
		err = s.create(ctx)
	} else {
		err = catalog().Upgrade(ctx, s.db, s.log)
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO account (session_name, dc_id, last_saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_name) DO NOTHING`,
		s.session, 2, 0,
	); err != nil {
		return fmt.Errorf("creating account record: %w", err)
	}

	s.log.Info(ctx, "session store opened", "fresh", !exists, "version", schemaVersion)
	return nil
}

// create writes the current schema directly, bypassing the migration
// history. Concurrent first opens race on CREATE TABLE; the loser's
// transaction rolls back and its caller retries Open.
func (s *Storage) create(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (number) VALUES ($1)`, schemaVersion,
		); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	})
}

// Save stamps the account record with the current time.
func (s *Storage) Save(ctx context.Context) error {
	return s.SetLastSavedAt(ctx, s.now().Unix())
}

// Close detaches from the shared pool without closing it.
func (s *Storage) Close() error {
	return nil
}

// Delete removes this session's account record; peers, usernames and
// checkpoints follow via ON DELETE CASCADE. Other sessions are not
// touched.
func (s *Storage) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM account WHERE session_name = $1`, s.session,
	); err != nil {
		return fmt.Errorf("deleting session: %w", err)
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
			// last_update_on is maintained by the row trigger.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO peers (session_name, id, access_hash, kind, phone_number)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (session_name, id) DO UPDATE SET
					access_hash  = EXCLUDED.access_hash,
					kind         = EXCLUDED.kind,
					phone_number = EXCLUDED.phone_number`,
				s.session, p.ID, p.AccessHash, string(p.Kind), nullable(p.PhoneNumber),
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
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM usernames WHERE session_name = $1 AND id = $2`, s.session, u.PeerID,
			); err != nil {
				return fmt.Errorf("clearing usernames for peer %d: %w", u.PeerID, err)
			}
			for _, name := range u.Usernames {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO usernames (session_name, id, username) VALUES ($1, $2, $3)`,
					s.session, u.PeerID, name,
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
		`SELECT access_hash, kind FROM peers WHERE session_name = $1 AND id = $2`,
		s.session, id,
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
		JOIN usernames u ON p.session_name = u.session_name AND p.id = u.id
		WHERE p.session_name = $1 AND u.username = $2
		ORDER BY p.last_update_on DESC
		LIMIT 1`,
		s.session, username,
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
		`SELECT id, access_hash, kind FROM peers WHERE session_name = $1 AND phone_number = $2`,
		s.session, phone,
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
		`SELECT id, pts, qts, date, seq FROM checkpoints WHERE session_name = $1 ORDER BY date ASC`,
		s.session,
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
		INSERT INTO checkpoints (session_name, id, pts, qts, date, seq)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_name, id) DO UPDATE SET
			pts  = EXCLUDED.pts,
			qts  = EXCLUDED.qts,
			date = EXCLUDED.date,
			seq  = EXCLUDED.seq`,
		s.session, cp.ID, cp.Pts, cp.Qts, cp.Date, cp.Seq,
	)
	if err != nil {
		return fmt.Errorf("upserting checkpoint %d: %w", cp.ID, err)
	}
	return nil
}

func (s *Storage) DeleteCheckpoint(ctx context.Context, id int32) error {
	// Deleting an absent checkpoint is fine.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_name = $1 AND id = $2`, s.session, id,
	); err != nil {
		return fmt.Errorf("deleting checkpoint %d: %w", id, err)
	}
	return nil
}

func (s *Storage) DCID(ctx context.Context) (int32, error) {
	var v int32
	err := s.db.QueryRowContext(ctx,
		`SELECT dc_id FROM account WHERE session_name = $1`, s.session,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading dc_id: %w", err)
	}
	return v, nil
}

func (s *Storage) SetDCID(ctx context.Context, dcID int32) error {
	return s.setAccount(ctx, `UPDATE account SET dc_id = $1 WHERE session_name = $2`, dcID)
}

func (s *Storage) APIID(ctx context.Context) (*int32, error) {
	var v sql.NullInt32
	err := s.db.QueryRowContext(ctx,
		`SELECT api_id FROM account WHERE session_name = $1`, s.session,
	).Scan(&v)
	if err != nil {
		return nil, fmt.Errorf("reading api_id: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int32, nil
}

func (s *Storage) SetAPIID(ctx context.Context, apiID int32) error {
	return s.setAccount(ctx, `UPDATE account SET api_id = $1 WHERE session_name = $2`, apiID)
}

func (s *Storage) TestMode(ctx context.Context) (*bool, error) {
	var v sql.NullBool
	err := s.db.QueryRowContext(ctx,
		`SELECT test_mode FROM account WHERE session_name = $1`, s.session,
	).Scan(&v)
	if err != nil {
		return nil, fmt.Errorf("reading test_mode: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Bool, nil
}

func (s *Storage) SetTestMode(ctx context.Context, testMode bool) error {
	return s.setAccount(ctx, `UPDATE account SET test_mode = $1 WHERE session_name = $2`, testMode)
}

func (s *Storage) AuthKey(ctx context.Context) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT auth_key FROM account WHERE session_name = $1`, s.session,
	).Scan(&key)
	if err != nil {
		return nil, fmt.Errorf("reading auth_key: %w", err)
	}
	return key, nil
}

func (s *Storage) SetAuthKey(ctx context.Context, key []byte) error {
	return s.setAccount(ctx, `UPDATE account SET auth_key = $1 WHERE session_name = $2`, key)
}

func (s *Storage) LastSavedAt(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_saved_at FROM account WHERE session_name = $1`, s.session,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading last_saved_at: %w", err)
	}
	return v, nil
}

func (s *Storage) SetLastSavedAt(ctx context.Context, ts int64) error {
	return s.setAccount(ctx, `UPDATE account SET last_saved_at = $1 WHERE session_name = $2`, ts)
}

func (s *Storage) UserID(ctx context.Context) (*int64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM account WHERE session_name = $1`, s.session,
	).Scan(&v)
	if err != nil {
		return nil, fmt.Errorf("reading user_id: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int64, nil
}

func (s *Storage) SetUserID(ctx context.Context, userID int64) error {
	return s.setAccount(ctx, `UPDATE account SET user_id = $1 WHERE session_name = $2`, userID)
}

func (s *Storage) IsBot(ctx context.Context) (*bool, error) {
	var v sql.NullBool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_bot FROM account WHERE session_name = $1`, s.session,
	).Scan(&v)
	if err != nil {
		return nil, fmt.Errorf("reading is_bot: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Bool, nil
}

func (s *Storage) SetIsBot(ctx context.Context, isBot bool) error {
	return s.setAccount(ctx, `UPDATE account SET is_bot = $1 WHERE session_name = $2`, isBot)
}

func (s *Storage) setAccount(ctx context.Context, query string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, query, value, s.session); err != nil {
		return fmt.Errorf("updating account record: %w", err)
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
