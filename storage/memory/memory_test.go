package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtkit/sessionstore/storage"
)

func openStore(t *testing.T) *Storage {
	t.Helper()
	s := New(Options{})
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestOpen_BootstrapDefaults(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	dc, err := s.DCID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), dc)

	apiID, err := s.APIID(ctx)
	require.NoError(t, err)
	assert.Nil(t, apiID)

	saved, err := s.LastSavedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), saved)
}

func TestAccountAccessors_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetDCID(ctx, 4))
	require.NoError(t, s.SetAPIID(ctx, 12345))
	require.NoError(t, s.SetTestMode(ctx, true))
	require.NoError(t, s.SetAuthKey(ctx, []byte{1, 2}))
	require.NoError(t, s.SetUserID(ctx, 777000))
	require.NoError(t, s.SetIsBot(ctx, false))

	dc, _ := s.DCID(ctx)
	assert.Equal(t, int32(4), dc)
	apiID, _ := s.APIID(ctx)
	require.NotNil(t, apiID)
	assert.Equal(t, int32(12345), *apiID)
	testMode, _ := s.TestMode(ctx)
	require.NotNil(t, testMode)
	assert.True(t, *testMode)
	key, _ := s.AuthKey(ctx)
	assert.Equal(t, []byte{1, 2}, key)
	userID, _ := s.UserID(ctx)
	require.NotNil(t, userID)
	assert.Equal(t, int64(777000), *userID)
	isBot, _ := s.IsBot(ctx)
	require.NotNil(t, isBot)
	assert.False(t, *isBot)
}

func TestSave_StampsLastSavedAt(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Save(ctx))
	saved, err := s.LastSavedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixed.Unix(), saved)
}

func TestUpdatePeers_BatchValidatedBeforeWrite(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	err := s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 1, AccessHash: 10, Kind: storage.KindUser},
		{ID: 2, AccessHash: 20, Kind: "gremlin"},
	})
	require.ErrorIs(t, err, storage.ErrInvalidKind)

	_, err = s.PeerByID(ctx, 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPeerLookups(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 42, AccessHash: 9, Kind: storage.KindUser, PhoneNumber: "5551234"},
		{ID: -999, Kind: storage.KindGroup},
		{ID: -1001234567890, AccessHash: 7, Kind: storage.KindChannel},
	}))

	peer, err := s.PeerByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, storage.InputPeerUser{UserID: 42, AccessHash: 9}, peer)

	peer, err = s.PeerByID(ctx, -999)
	require.NoError(t, err)
	assert.Equal(t, storage.InputPeerChat{ChatID: 999}, peer)

	peer, err = s.PeerByID(ctx, -1001234567890)
	require.NoError(t, err)
	assert.Equal(t, storage.InputPeerChannel{ChannelID: 1234567890, AccessHash: 7}, peer)

	peer, err = s.PeerByPhoneNumber(ctx, "5551234")
	require.NoError(t, err)
	assert.Equal(t, storage.InputPeerUser{UserID: 42, AccessHash: 9}, peer)

	_, err = s.PeerByPhoneNumber(ctx, "5550000")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateUsernames_FullReplace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 1, AccessHash: 10, Kind: storage.KindUser},
	}))
	require.NoError(t, s.UpdateUsernames(ctx, []storage.UsernameUpdate{
		{PeerID: 1, Usernames: []string{"alice", "alice2"}},
	}))
	require.NoError(t, s.UpdateUsernames(ctx, []storage.UsernameUpdate{
		{PeerID: 1, Usernames: []string{"bob"}},
	}))

	_, err := s.PeerByUsername(ctx, "alice")
	require.ErrorIs(t, err, storage.ErrNotFound)

	peer, err := s.PeerByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, storage.InputPeerUser{UserID: 1, AccessHash: 10}, peer)
}

func TestPeerByUsername_TTLAndTieBreak(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 1, AccessHash: 100, Kind: storage.KindUser},
	}))
	require.NoError(t, s.UpdateUsernames(ctx, []storage.UsernameUpdate{
		{PeerID: 1, Usernames: []string{"shared"}},
	}))

	// Second peer written later takes the shared username.
	s.peers[1].lastUpdateOn = time.Now().Add(-2 * time.Hour).Unix()
	require.NoError(t, s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 2, AccessHash: 200, Kind: storage.KindUser},
	}))
	require.NoError(t, s.UpdateUsernames(ctx, []storage.UsernameUpdate{
		{PeerID: 2, Usernames: []string{"shared"}},
	}))

	peer, err := s.PeerByUsername(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, storage.InputPeerUser{UserID: 2, AccessHash: 200}, peer)

	// Expiry applies to the winning row.
	s.peers[2].lastUpdateOn = time.Now().Add(-9 * time.Hour).Unix()
	s.peers[1].lastUpdateOn = time.Now().Add(-10 * time.Hour).Unix()
	_, err = s.PeerByUsername(ctx, "shared")
	require.ErrorIs(t, err, storage.ErrExpired)
}

func TestCheckpoints(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCheckpoint(ctx, storage.Checkpoint{ID: 2, Pts: 20, Date: 200}))
	require.NoError(t, s.UpsertCheckpoint(ctx, storage.Checkpoint{ID: 1, Pts: 10, Date: 100}))
	require.NoError(t, s.UpsertCheckpoint(ctx, storage.Checkpoint{ID: 1, Pts: 11, Date: 100}))

	cps, err := s.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, int32(1), cps[0].ID)
	assert.Equal(t, int32(11), cps[0].Pts)
	assert.Equal(t, int32(2), cps[1].ID)

	require.NoError(t, s.DeleteCheckpoint(ctx, 1))
	require.NoError(t, s.DeleteCheckpoint(ctx, 1))
	cps, err = s.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 1)
}

func TestDelete_ResetsState(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetAPIID(ctx, 999))
	require.NoError(t, s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 1, AccessHash: 1, Kind: storage.KindUser},
	}))

	require.NoError(t, s.Delete(ctx))
	require.NoError(t, s.Open(ctx))

	apiID, err := s.APIID(ctx)
	require.NoError(t, err)
	assert.Nil(t, apiID)

	dc, err := s.DCID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), dc)

	_, err = s.PeerByID(ctx, 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
