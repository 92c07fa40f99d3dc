package storage

// Checkpoint is a position marker in the incremental update stream for
// one tracked channel/scope, used by the caller to resume sync after a
// reconnect. The fields are opaque to this subsystem.
type Checkpoint struct {
	ID   int32
	Pts  int32
	Qts  int32
	Date int32
	Seq  int32
}
