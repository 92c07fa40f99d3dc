package legacy

import (
	"context"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/storage"
)

const schemaVersion = 7

const schema = `
CREATE TABLE sessions
(
    dc_id          INTEGER PRIMARY KEY,
    server_address TEXT,
    port           INTEGER,
    auth_key       BLOB,
    takeout_id     INTEGER
);

CREATE TABLE entities
(
    id       INTEGER PRIMARY KEY,
    hash     INTEGER NOT NULL,
    username TEXT,
    phone    INTEGER,
    name     TEXT,
    date     INTEGER
);

CREATE TABLE sent_files
(
    md5_digest BLOB,
    file_size  INTEGER,
    type       INTEGER,
    id         INTEGER,
    hash       INTEGER,
    PRIMARY KEY (md5_digest, file_size, type)
);

CREATE TABLE update_state
(
    id   INTEGER PRIMARY KEY,
    pts  INTEGER,
    qts  INTEGER,
    date INTEGER,
    seq  INTEGER
);

CREATE TABLE version
(
    version INTEGER PRIMARY KEY
);
`

const sentFilesSchema = `
CREATE TABLE sent_files
(
    md5_digest BLOB,
    file_size  INTEGER,
    type       INTEGER,
    id         INTEGER,
    hash       INTEGER,
    PRIMARY KEY (md5_digest, file_size, type)
);
`

const updateStateSchema = `
CREATE TABLE update_state
(
    id   INTEGER PRIMARY KEY,
    pts  INTEGER,
    qts  INTEGER,
    date INTEGER,
    seq  INTEGER
);
`

func catalog() storage.Catalog {
	return storage.Catalog{
		Current: schemaVersion,
		ReadVersion: func(ctx context.Context, db dbx.DBTX) (int, error) {
			var v int
			err := db.QueryRowContext(ctx, `SELECT version FROM version`).Scan(&v)
			return v, err
		},
		WriteVersion: func(ctx context.Context, db dbx.DBTX, v int) error {
			_, err := db.ExecContext(ctx, `UPDATE version SET version = ?`, v)
			return err
		},
		Steps: map[int]func(ctx context.Context, tx dbx.DBTX) error{
			// Nothing structural changed between 1 and 2.
			1: noop,
			2: execAll(
				`ALTER TABLE sessions ADD api_id INTEGER`,
				sentFilesSchema,
			),
			3: execAll(updateStateSchema),
			4: execAll(`ALTER TABLE sessions ADD COLUMN takeout_id INTEGER`),
			// Access hashes recorded before this version are unreliable,
			// drop the cache wholesale.
			5: execAll(`DELETE FROM entities`),
			6: execAll(`ALTER TABLE entities ADD COLUMN date INTEGER`),
		},
	}
}

func noop(ctx context.Context, tx dbx.DBTX) error { return nil }

func execAll(queries ...string) func(ctx context.Context, tx dbx.DBTX) error {
	return func(ctx context.Context, tx dbx.DBTX) error {
		for _, q := range queries {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	}
}
