package storage

import "errors"

// Sentinel errors returned by every engine. Callers match them with
// errors.Is.
var (
	// ErrNotFound - a lookup by id, username or phone number found no
	// cached row. Retrying against the same cache is pointless; the
	// caller must re-resolve externally.
	ErrNotFound = errors.New("not found")

	// ErrExpired - a username lookup succeeded but the row is older
	// than UsernameTTL. Distinct from ErrNotFound so the caller can
	// force a network refresh instead of assuming the username never
	// existed.
	ErrExpired = errors.New("expired")

	// ErrInvalidKind - a stored peer kind outside the known set;
	// indicates data corruption or a version mismatch. Fatal for the
	// lookup, not for the store.
	ErrInvalidKind = errors.New("invalid peer kind")

	// ErrSchemaVersionUnsupported - the stored schema version is newer
	// than this code supports. Fatal at Open; never auto-downgrade.
	ErrSchemaVersionUnsupported = errors.New("schema version unsupported")

	// ErrNotSupported - the operation is not implemented by this
	// engine (legacy schemas have no checkpoint ledger).
	ErrNotSupported = errors.New("not supported by this engine")
)
