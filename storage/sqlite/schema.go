package sqlite

import (
	"context"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/storage"
)

// schemaVersion is the current schema level for the embedded engine.
// Migration steps below bring any historical file up to it.
const schemaVersion = 6

const schema = `
CREATE TABLE account
(
    dc_id         INTEGER PRIMARY KEY,
    api_id        INTEGER,
    test_mode     INTEGER,
    auth_key      BLOB,
    last_saved_at INTEGER NOT NULL,
    user_id       INTEGER,
    is_bot        INTEGER
);

CREATE TABLE peers
(
    id             INTEGER PRIMARY KEY,
    access_hash    INTEGER,
    kind           TEXT NOT NULL,
    phone_number   TEXT,
    last_update_on INTEGER NOT NULL DEFAULT (CAST(STRFTIME('%s', 'now') AS INTEGER))
);

CREATE TABLE usernames
(
    id       INTEGER,
    username TEXT,
    FOREIGN KEY (id) REFERENCES peers (id)
);

CREATE TABLE checkpoints
(
    id   INTEGER PRIMARY KEY,
    pts  INTEGER,
    qts  INTEGER,
    date INTEGER,
    seq  INTEGER
);

CREATE TABLE schema_version
(
    number INTEGER PRIMARY KEY
);

CREATE INDEX idx_peers_phone_number ON peers (phone_number);
CREATE INDEX idx_usernames_id ON usernames (id);
CREATE INDEX idx_usernames_username ON usernames (username);

CREATE TRIGGER trg_peers_last_update_on
    AFTER UPDATE
    ON peers
BEGIN
    UPDATE peers
    SET last_update_on = CAST(STRFTIME('%s', 'now') AS INTEGER)
    WHERE id = NEW.id;
END;
`

const usernamesSchema = `
CREATE TABLE usernames
(
    id       INTEGER,
    username TEXT,
    FOREIGN KEY (id) REFERENCES peers (id)
);

CREATE INDEX idx_usernames_username ON usernames (username);
`

const checkpointsSchema = `
CREATE TABLE checkpoints
(
    id   INTEGER PRIMARY KEY,
    pts  INTEGER,
    qts  INTEGER,
    date INTEGER,
    seq  INTEGER
);
`

// catalog declares the embedded engine's migration history. Step v
// upgrades a file at stored version v to v+1; the chain is append-only.
func catalog() storage.Catalog {
	return storage.Catalog{
		Current: schemaVersion,
		ReadVersion: func(ctx context.Context, db dbx.DBTX) (int, error) {
			var v int
			err := db.QueryRowContext(ctx, `SELECT number FROM schema_version`).Scan(&v)
			return v, err
		},
		WriteVersion: func(ctx context.Context, db dbx.DBTX, v int) error {
			_, err := db.ExecContext(ctx, `UPDATE schema_version SET number = ?`, v)
			return err
		},
		Steps: map[int]func(ctx context.Context, tx dbx.DBTX) error{
			// Access hashes recorded before this version are unreliable,
			// drop the cache wholesale.
			1: execStep(`DELETE FROM peers`),
			2: execStep(`ALTER TABLE account ADD api_id INTEGER`),
			3: execStep(usernamesSchema),
			4: execStep(checkpointsSchema),
			5: execStep(`CREATE INDEX idx_usernames_id ON usernames (id)`),
		},
	}
}

func execStep(query string) func(ctx context.Context, tx dbx.DBTX) error {
	return func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, query)
		return err
	}
}
