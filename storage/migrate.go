package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/internal/logging"
)

// Catalog declares one engine family's schema versioning: the current
// version, the ordered migration steps, and how the version scalar is
// read and written.
//
// Steps[v] upgrades a store at version v to version v+1. Steps are
// append-only: existing steps are never renumbered or reordered, new
// ones only ever take the next version number. Fresh creation is not
// part of the catalog; engines create the current schema directly and
// write Current without replaying history.
type Catalog struct {
	// Current is the schema version this code writes and expects.
	Current int

	// Steps maps a stored version to the transformation that brings
	// the schema to the next version.
	Steps map[int]func(ctx context.Context, tx dbx.DBTX) error

	// ReadVersion returns the stored schema version.
	ReadVersion func(ctx context.Context, db dbx.DBTX) (int, error)

	// WriteVersion persists a new schema version.
	WriteVersion func(ctx context.Context, db dbx.DBTX, v int) error
}

// Upgrade brings an existing schema from its stored version up to
// cat.Current. Each step and its version bump are applied in one
// transaction, so a crash between steps never silently skips one.
// Already-current schemas are left untouched; a stored version newer
// than cat.Current is a hard error.
func (cat Catalog) Upgrade(ctx context.Context, db *sql.DB, log logging.Logger) error {
	v, err := cat.ReadVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if v > cat.Current {
		return fmt.Errorf("stored version %d, supported %d: %w", v, cat.Current, ErrSchemaVersionUnsupported)
	}

	for v < cat.Current {
		step, ok := cat.Steps[v]
		if !ok {
			return fmt.Errorf("no migration step registered for version %d", v)
		}

		err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := step(ctx, tx); err != nil {
				return err
			}
			return cat.WriteVersion(ctx, tx, v+1)
		})
		if err != nil {
			return fmt.Errorf("migrating schema from version %d: %w", v, err)
		}

		log.Info(ctx, "applied schema migration", "from", v, "to", v+1)
		v++
	}

	return nil
}
