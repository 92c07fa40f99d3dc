package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerKind_Valid(t *testing.T) {
	for _, k := range []PeerKind{KindUser, KindBot, KindGroup, KindChannel, KindSupergroup} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, PeerKind("").Valid())
	assert.False(t, PeerKind("gremlin").Valid())
}

func TestDefaultChannelID(t *testing.T) {
	assert.Equal(t, int64(1234567890), DefaultChannelID(-1001234567890))
	assert.Equal(t, int64(9876543210), DefaultChannelID(-1009876543210))
}

func TestResolveInputPeer(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		hash int64
		kind PeerKind
		want InputPeer
	}{
		{"user", 42, 9, KindUser, InputPeerUser{UserID: 42, AccessHash: 9}},
		{"bot", 43, 8, KindBot, InputPeerUser{UserID: 43, AccessHash: 8}},
		{"group", -999, 0, KindGroup, InputPeerChat{ChatID: 999}},
		{"channel", -1001234567890, 7, KindChannel, InputPeerChannel{ChannelID: 1234567890, AccessHash: 7}},
		{"supergroup", -1005550001111, 6, KindSupergroup, InputPeerChannel{ChannelID: 5550001111, AccessHash: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInputPeer(tt.id, tt.hash, tt.kind, DefaultChannelID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveInputPeer_CustomChannelID(t *testing.T) {
	double := func(peerID int64) int64 { return peerID * 2 }
	got, err := ResolveInputPeer(-5, 1, KindChannel, double)
	require.NoError(t, err)
	assert.Equal(t, InputPeerChannel{ChannelID: -10, AccessHash: 1}, got)
}

func TestResolveInputPeer_UnknownKind(t *testing.T) {
	_, err := ResolveInputPeer(1, 1, "gremlin", DefaultChannelID)
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestUsernameFresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, UsernameFresh(now.Unix(), now))
	assert.True(t, UsernameFresh(now.Add(-UsernameTTL).Unix(), now))
	assert.False(t, UsernameFresh(now.Add(-UsernameTTL-time.Second).Unix(), now))

	// Clock skew: future timestamps age by absolute distance.
	assert.True(t, UsernameFresh(now.Add(UsernameTTL).Unix(), now))
	assert.False(t, UsernameFresh(now.Add(UsernameTTL+time.Second).Unix(), now))
}
