// Package storage defines the engine-agnostic session store contract:
// per-account authentication state, a TTL-gated peer identity cache and
// an update-checkpoint ledger, plus the schema migration machinery
// shared by every engine.
//
// A Storage instance owns exactly one session. Engines backed by a
// shared server (see storage/postgres) scope every operation to the
// session name; embedded engines (storage/sqlite, storage/legacy) hold
// one session per file, so the scoping degenerates to nothing.
package storage

import "context"

// Storage is the session store contract. Open must be called before any
// other operation; it creates a fresh schema at the current version or
// migrates an existing one, and guarantees the account record exists.
type Storage interface {
	// Open prepares the backing store: fresh creation or migration,
	// plus the bootstrap account record (dc_id=2, last_saved_at=0).
	Open(ctx context.Context) error
	// Save records the current time as the account's last-saved
	// timestamp and flushes buffered writes.
	Save(ctx context.Context) error
	// Close releases all resources. The instance is unusable afterwards
	// until reopened.
	Close() error
	// Delete irreversibly removes all state for the session: account
	// record, peers, usernames and checkpoints.
	Delete(ctx context.Context) error

	// UpdatePeers bulk-upserts peers by id, replacing all supplied
	// fields. The engine refreshes last_update_on as a side effect of
	// the write. Empty input is a no-op.
	UpdatePeers(ctx context.Context, peers []PeerUpdate) error
	// UpdateUsernames replaces, for every id present in the input, the
	// full set of that id's usernames. An empty set clears them. Each
	// id's replace is all-or-nothing.
	UpdateUsernames(ctx context.Context, usernames []UsernameUpdate) error
	// PeerByID resolves a cached peer by its numeric id.
	// Returns ErrNotFound if the peer is not cached.
	PeerByID(ctx context.Context, id int64) (InputPeer, error)
	// PeerByUsername resolves a cached peer by username. When several
	// peers carry the same username the most recently written one wins.
	// Returns ErrNotFound if no match exists and ErrExpired if the
	// match is older than UsernameTTL.
	PeerByUsername(ctx context.Context, username string) (InputPeer, error)
	// PeerByPhoneNumber resolves a cached peer by phone number. Phone
	// numbers are treated as stable, so no TTL applies.
	PeerByPhoneNumber(ctx context.Context, phone string) (InputPeer, error)

	// ListCheckpoints returns all update checkpoints ordered by date
	// ascending, oldest pending gap first.
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
	// UpsertCheckpoint inserts or fully overwrites the checkpoint with
	// the given id.
	UpsertCheckpoint(ctx context.Context, cp Checkpoint) error
	// DeleteCheckpoint removes the checkpoint with the given id.
	// Deleting an absent id is not an error.
	DeleteCheckpoint(ctx context.Context, id int32) error

	// Engines lacking a checkpoint ledger return ErrNotSupported from
	// the three operations above.

	AccountAccessor
}

// AccountAccessor is the per-field get/set surface of the single
// account record. Nullable fields read as nil before the first write.
type AccountAccessor interface {
	DCID(ctx context.Context) (int32, error)
	SetDCID(ctx context.Context, dcID int32) error

	APIID(ctx context.Context) (*int32, error)
	SetAPIID(ctx context.Context, apiID int32) error

	TestMode(ctx context.Context) (*bool, error)
	SetTestMode(ctx context.Context, testMode bool) error

	AuthKey(ctx context.Context) ([]byte, error)
	SetAuthKey(ctx context.Context, key []byte) error

	LastSavedAt(ctx context.Context) (int64, error)
	SetLastSavedAt(ctx context.Context, ts int64) error

	UserID(ctx context.Context) (*int64, error)
	SetUserID(ctx context.Context, userID int64) error

	IsBot(ctx context.Context) (*bool, error)
	SetIsBot(ctx context.Context, isBot bool) error
}
