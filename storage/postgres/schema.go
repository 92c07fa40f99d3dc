package postgres

import (
	"context"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/storage"
)

// schemaVersion is the current schema level for the server engine.
// The version scalar is shared by every session in the database.
const schemaVersion = 2

const schema = `
CREATE TABLE account
(
    session_name  TEXT PRIMARY KEY,
    dc_id         INTEGER NOT NULL,
    api_id        INTEGER,
    test_mode     BOOLEAN,
    auth_key      BYTEA,
    last_saved_at BIGINT NOT NULL,
    user_id       BIGINT,
    is_bot        BOOLEAN
);

CREATE TABLE peers
(
    session_name   TEXT NOT NULL REFERENCES account (session_name) ON DELETE CASCADE,
    id             BIGINT NOT NULL,
    access_hash    BIGINT,
    kind           TEXT NOT NULL,
    phone_number   TEXT,
    last_update_on BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
    PRIMARY KEY (session_name, id)
);

CREATE TABLE usernames
(
    session_name TEXT NOT NULL,
    id           BIGINT NOT NULL,
    username     TEXT,
    FOREIGN KEY (session_name, id) REFERENCES peers (session_name, id) ON DELETE CASCADE
);

CREATE TABLE checkpoints
(
    session_name TEXT NOT NULL REFERENCES account (session_name) ON DELETE CASCADE,
    id           INTEGER NOT NULL,
    pts          INTEGER,
    qts          INTEGER,
    date         INTEGER,
    seq          INTEGER,
    PRIMARY KEY (session_name, id)
);

CREATE TABLE schema_version
(
    number INTEGER PRIMARY KEY
);

CREATE INDEX idx_peers_phone_number ON peers (session_name, phone_number);
CREATE INDEX idx_usernames_id ON usernames (session_name, id);
CREATE INDEX idx_usernames_username ON usernames (session_name, username);

CREATE FUNCTION set_peer_last_update_on() RETURNS TRIGGER AS $$
BEGIN
    NEW.last_update_on := EXTRACT(EPOCH FROM NOW())::BIGINT;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER trg_peers_last_update_on
    BEFORE INSERT OR UPDATE
    ON peers
    FOR EACH ROW
EXECUTE FUNCTION set_peer_last_update_on();
`

const checkpointsSchema = `
CREATE TABLE checkpoints
(
    session_name TEXT NOT NULL REFERENCES account (session_name) ON DELETE CASCADE,
    id           INTEGER NOT NULL,
    pts          INTEGER,
    qts          INTEGER,
    date         INTEGER,
    seq          INTEGER,
    PRIMARY KEY (session_name, id)
);
`

func catalog() storage.Catalog {
	return storage.Catalog{
		Current: schemaVersion,
		ReadVersion: func(ctx context.Context, db dbx.DBTX) (int, error) {
			var v int
			err := db.QueryRowContext(ctx, `SELECT number FROM schema_version`).Scan(&v)
			return v, err
		},
		WriteVersion: func(ctx context.Context, db dbx.DBTX, v int) error {
			_, err := db.ExecContext(ctx, `UPDATE schema_version SET number = $1`, v)
			return err
		},
		Steps: map[int]func(ctx context.Context, tx dbx.DBTX) error{
			1: func(ctx context.Context, tx dbx.DBTX) error {
				_, err := tx.ExecContext(ctx, checkpointsSchema)
				return err
			},
		},
	}
}
