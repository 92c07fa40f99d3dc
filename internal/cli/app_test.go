package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cliconfig "github.com/mtkit/sessionstore/internal/cli/config"
	"github.com/mtkit/sessionstore/storage"
	"github.com/mtkit/sessionstore/storage/sqlite"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ctl.session")
	cfg := &cliconfig.Config{}
	cfg.LoadDefaults()
	cfg.Path = path

	a := NewApp(cfg)
	out := &bytes.Buffer{}
	a.out = out
	return a, out, path
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		cmd  string
		rest []string
	}{
		{"bare", []string{"info"}, "info", nil},
		{"flags before", []string{"-e", "sqlite", "-p", "x.session", "info"}, "info", nil},
		{"bool flag", []string{"-v", "peer", "@alice"}, "peer", []string{"@alice"}},
		{"equals form", []string{"-p=x.session", "checkpoints"}, "checkpoints", nil},
		{"empty", []string{"-e", "sqlite"}, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, rest := splitCommand(tt.args)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	a, out, _ := newTestApp(t)

	require.NoError(t, a.Run(context.Background(), nil))
	assert.Contains(t, out.String(), "usage: sessionctl")
}

func TestRun_UnknownCommand(t *testing.T) {
	a, _, _ := newTestApp(t)

	err := a.Run(context.Background(), []string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRun_InitAndInfo(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"init"}))
	assert.Contains(t, out.String(), "ok")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"info"}))
	assert.Contains(t, out.String(), "dc_id:         2")
	assert.Contains(t, out.String(), "api_id:        unset")
	assert.Contains(t, out.String(), "last_saved_at: 0")
}

func TestRun_PeerLookup(t *testing.T) {
	a, out, path := newTestApp(t)
	ctx := context.Background()

	s := sqlite.New(path, sqlite.Options{})
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.UpdatePeers(ctx, []storage.PeerUpdate{
		{ID: 42, AccessHash: 9, Kind: storage.KindUser, PhoneNumber: "5551234"},
	}))
	require.NoError(t, s.UpdateUsernames(ctx, []storage.UsernameUpdate{
		{PeerID: 42, Usernames: []string{"alice"}},
	}))
	require.NoError(t, s.Close())

	require.NoError(t, a.Run(ctx, []string{"peer", "42"}))
	assert.Contains(t, out.String(), "user id=42 access_hash=9")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"peer", "@alice"}))
	assert.Contains(t, out.String(), "user id=42")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"peer", "+5551234"}))
	assert.Contains(t, out.String(), "user id=42")

	err := a.Run(ctx, []string{"peer", "404"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = a.Run(ctx, []string{"peer", "not-a-query"})
	require.Error(t, err)
}

func TestRun_PeerRequiresArgument(t *testing.T) {
	a, _, _ := newTestApp(t)

	err := a.Run(context.Background(), []string{"peer"})
	require.Error(t, err)
}

func TestRun_Checkpoints(t *testing.T) {
	a, out, path := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"init"}))

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"checkpoints"}))
	assert.Contains(t, out.String(), "no checkpoints")

	s := sqlite.New(path, sqlite.Options{})
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.UpsertCheckpoint(ctx, storage.Checkpoint{ID: 1, Pts: 10, Date: 100}))
	require.NoError(t, s.Close())

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"checkpoints"}))
	assert.Contains(t, out.String(), "id=1 pts=10")
}

func TestRun_Delete(t *testing.T) {
	a, _, path := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"init"}))
	require.NoError(t, a.Run(ctx, []string{"delete"}))
	assert.NoFileExists(t, path)
}
