package storage

import (
	"fmt"
	"time"
)

// PeerKind classifies an addressable counterpart. It is stored
// explicitly; engines never re-derive it from the id's numeric range
// except at the legacy driver boundary, whose schema predates the
// column.
type PeerKind string

const (
	KindUser       PeerKind = "user"
	KindBot        PeerKind = "bot"
	KindGroup      PeerKind = "group"
	KindChannel    PeerKind = "channel"
	KindSupergroup PeerKind = "supergroup"
)

// Valid reports whether k is one of the known kinds.
func (k PeerKind) Valid() bool {
	switch k {
	case KindUser, KindBot, KindGroup, KindChannel, KindSupergroup:
		return true
	}
	return false
}

// PeerUpdate is one newly observed peer as reported by the protocol
// layer. PhoneNumber is optional; the empty string is stored as NULL.
type PeerUpdate struct {
	ID          int64
	AccessHash  int64
	Kind        PeerKind
	PhoneNumber string
}

// UsernameUpdate carries the complete current username set for one
// peer. An empty set clears the peer's usernames.
type UsernameUpdate struct {
	PeerID    int64
	Usernames []string
}

// UsernameTTL is the maximum age of a cached username mapping.
// Usernames can be freed and reassigned, so anything older is treated
// as unusable and the caller must re-resolve from the network.
const UsernameTTL = 8 * time.Hour

// UsernameFresh reports whether a username row written at lastUpdateOn
// (seconds since epoch) is still within UsernameTTL at now.
func UsernameFresh(lastUpdateOn int64, now time.Time) bool {
	age := now.Unix() - lastUpdateOn
	if age < 0 {
		age = -age
	}
	return age <= int64(UsernameTTL/time.Second)
}

// InputPeer is an addressable peer value reconstructed from the cache,
// ready to be handed back to the protocol layer.
type InputPeer interface {
	inputPeer()
}

// InputPeerUser addresses a user or bot by id and access hash.
type InputPeerUser struct {
	UserID     int64
	AccessHash int64
}

// InputPeerChat addresses a basic group by its positive chat id.
type InputPeerChat struct {
	ChatID int64
}

// InputPeerChannel addresses a channel or supergroup by its bare
// channel id and access hash.
type InputPeerChannel struct {
	ChannelID  int64
	AccessHash int64
}

func (InputPeerUser) inputPeer()    {}
func (InputPeerChat) inputPeer()    {}
func (InputPeerChannel) inputPeer() {}

// ChannelIDFunc maps a stored channel peer id to the bare channel id
// used on the wire. The transform belongs to the surrounding protocol
// layer; engines accept it as an injected pure function.
type ChannelIDFunc func(peerID int64) int64

// Channel peer ids live in the -100xxxxxxxxxx range.
const zeroChannelID = -1_000_000_000_000

// DefaultChannelID is the standard range transform: it strips the
// channel marker prefix, e.g. -1001234567890 -> 1234567890.
func DefaultChannelID(peerID int64) int64 {
	return zeroChannelID - peerID
}

// ResolveInputPeer reconstructs an addressable peer from the three
// stored identity fields. channelID may be nil, in which case
// DefaultChannelID is used.
func ResolveInputPeer(id, accessHash int64, kind PeerKind, channelID ChannelIDFunc) (InputPeer, error) {
	switch kind {
	case KindUser, KindBot:
		return InputPeerUser{UserID: id, AccessHash: accessHash}, nil
	case KindGroup:
		// Basic groups are stored with negative ids.
		return InputPeerChat{ChatID: -id}, nil
	case KindChannel, KindSupergroup:
		if channelID == nil {
			channelID = DefaultChannelID
		}
		return InputPeerChannel{ChannelID: channelID(id), AccessHash: accessHash}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
}
