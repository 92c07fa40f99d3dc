// Package memory implements the session store in process memory. It
// exists for consumers' tests: same contract as the database engines,
// nothing survives the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtkit/sessionstore/storage"
)

type peer struct {
	accessHash   int64
	kind         storage.PeerKind
	phoneNumber  string
	lastUpdateOn int64
}

type account struct {
	dcID        int32
	apiID       *int32
	testMode    *bool
	authKey     []byte
	lastSavedAt int64
	userID      *int64
	isBot       *bool
}

// Options tunes a Storage instance. The zero value is usable.
type Options struct {
	// ChannelID overrides the channel-id range transform used when
	// reconstructing channel peers. Defaults to storage.DefaultChannelID.
	ChannelID storage.ChannelIDFunc
}

// Storage is the in-memory engine.
type Storage struct {
	channelID storage.ChannelIDFunc

	mu          sync.RWMutex
	account     account
	peers       map[int64]*peer
	usernames   map[int64][]string
	checkpoints map[int32]storage.Checkpoint

	now func() time.Time
}

var _ storage.Storage = (*Storage)(nil)

// New returns an unopened store.
func New(opts Options) *Storage {
	return &Storage{
		channelID: opts.ChannelID,
		now:       time.Now,
	}
}

// Open initializes the bootstrap account state. Opening an already-open
// store is a no-op.
func (s *Storage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peers != nil {
		return nil
	}

	s.account = account{dcID: 2}
	s.peers = make(map[int64]*peer)
	s.usernames = make(map[int64][]string)
	s.checkpoints = make(map[int32]storage.Checkpoint)
	return nil
}

func (s *Storage) Save(ctx context.Context) error {
	return s.SetLastSavedAt(ctx, s.now().Unix())
}

func (s *Storage) Close() error {
	return nil
}

// Delete drops all state; a following Open starts fresh.
func (s *Storage) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.account = account{}
	s.peers = nil
	s.usernames = nil
	s.checkpoints = nil
	return nil
}

func (s *Storage) UpdatePeers(ctx context.Context, peers []storage.PeerUpdate) error {
	if len(peers) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching state, so a bad entry
	// does not leave a partial write behind.
	for _, p := range peers {
		if !p.Kind.Valid() {
			return fmt.Errorf("%w: %q", storage.ErrInvalidKind, p.Kind)
		}
	}

	now := s.now().Unix()
	for _, p := range peers {
		s.peers[p.ID] = &peer{
			accessHash:   p.AccessHash,
			kind:         p.Kind,
			phoneNumber:  p.PhoneNumber,
			lastUpdateOn: now,
		}
	}
	return nil
}

func (s *Storage) UpdateUsernames(ctx context.Context, usernames []storage.UsernameUpdate) error {
	if len(usernames) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range usernames {
		if len(u.Usernames) == 0 {
			delete(s.usernames, u.PeerID)
			continue
		}
		s.usernames[u.PeerID] = append([]string(nil), u.Usernames...)
	}
	return nil
}

func (s *Storage) PeerByID(ctx context.Context, id int64) (storage.InputPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.ResolveInputPeer(id, p.accessHash, p.kind, s.channelID)
}

func (s *Storage) PeerByUsername(ctx context.Context, username string) (storage.InputPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Duplicate usernames resolve to the most recently updated peer.
	var (
		bestID int64
		best   *peer
	)
	for id, names := range s.usernames {
		p, ok := s.peers[id]
		if !ok {
			continue
		}
		for _, name := range names {
			if name != username {
				continue
			}
			if best == nil || p.lastUpdateOn > best.lastUpdateOn {
				bestID, best = id, p
			}
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}

	if !storage.UsernameFresh(best.lastUpdateOn, s.now()) {
		return nil, storage.ErrExpired
	}

	return storage.ResolveInputPeer(bestID, best.accessHash, best.kind, s.channelID)
}

func (s *Storage) PeerByPhoneNumber(ctx context.Context, phone string) (storage.InputPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, p := range s.peers {
		if p.phoneNumber != "" && p.phoneNumber == phone {
			return storage.ResolveInputPeer(id, p.accessHash, p.kind, s.channelID)
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Storage) ListCheckpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func (s *Storage) UpsertCheckpoint(ctx context.Context, cp storage.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[cp.ID] = cp
	return nil
}

func (s *Storage) DeleteCheckpoint(ctx context.Context, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, id)
	return nil
}

func (s *Storage) DCID(ctx context.Context) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.dcID, nil
}

func (s *Storage) SetDCID(ctx context.Context, dcID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.dcID = dcID
	return nil
}

func (s *Storage) APIID(ctx context.Context) (*int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.apiID, nil
}

func (s *Storage) SetAPIID(ctx context.Context, apiID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.apiID = &apiID
	return nil
}

func (s *Storage) TestMode(ctx context.Context) (*bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.testMode, nil
}

func (s *Storage) SetTestMode(ctx context.Context, testMode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.testMode = &testMode
	return nil
}

func (s *Storage) AuthKey(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.authKey, nil
}

func (s *Storage) SetAuthKey(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.authKey = append([]byte(nil), key...)
	return nil
}

func (s *Storage) LastSavedAt(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.lastSavedAt, nil
}

func (s *Storage) SetLastSavedAt(ctx context.Context, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.lastSavedAt = ts
	return nil
}

func (s *Storage) UserID(ctx context.Context) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.userID, nil
}

func (s *Storage) SetUserID(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.userID = &userID
	return nil
}

func (s *Storage) IsBot(ctx context.Context) (*bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.isBot, nil
}

func (s *Storage) SetIsBot(ctx context.Context, isBot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.isBot = &isBot
	return nil
}
