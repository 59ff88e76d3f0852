// Package memory implements the storage interface for a private BitTorrent
// tracker keeping every record in memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/stop"
	"github.com/pttracker/pttracker/storage"
)

// Name is the name by which this store is registered.
const Name = "memory"

func init() {
	// Register the storage driver.
	storage.RegisterDriver(Name, driver{})
}

type driver struct{}

func (d driver) NewStore(_ interface{}) (storage.Store, error) {
	return New(), nil
}

type recordKey struct {
	infoHash bittorrent.InfoHash
	userID   uint64
}

type store struct {
	sync.RWMutex

	users     map[uint64]*storage.User
	passkeys  map[string]uint64
	torrents  map[bittorrent.InfoHash]*storage.Torrent
	peers     map[string]*storage.Peer
	completes map[recordKey]*storage.Complete
	finished  map[recordKey][]*storage.Finished

	// Secondary indexes of peers by torrent and by user.
	torrentPeers map[bittorrent.InfoHash]map[string]struct{}
	userPeers    map[uint64]map[string]struct{}

	sessions *sessionLocks

	closed chan struct{}
}

var _ storage.Store = &store{}

// New creates a new Store backed by memory.
func New() storage.Store {
	return &store{
		users:        make(map[uint64]*storage.User),
		passkeys:     make(map[string]uint64),
		torrents:     make(map[bittorrent.InfoHash]*storage.Torrent),
		peers:        make(map[string]*storage.Peer),
		completes:    make(map[recordKey]*storage.Complete),
		finished:     make(map[recordKey][]*storage.Finished),
		torrentPeers: make(map[bittorrent.InfoHash]map[string]struct{}),
		userPeers:    make(map[uint64]map[string]struct{}),
		sessions:     newSessionLocks(),
		closed:       make(chan struct{}),
	}
}

func (s *store) checkOpen() {
	select {
	case <-s.closed:
		panic("attempted to interact with stopped memory store")
	default:
	}
}

func (s *store) PutUser(_ context.Context, u *storage.User) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	if old, ok := s.users[u.ID]; ok {
		delete(s.passkeys, old.Passkey)
	}

	cp := *u
	s.users[u.ID] = &cp
	s.passkeys[u.Passkey] = u.ID
	return nil
}

func (s *store) UserByPasskey(_ context.Context, passkey string) (*storage.User, error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	id, ok := s.passkeys[passkey]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	cp := *s.users[id]
	return &cp, nil
}

func (s *store) RefreshUser(_ context.Context, id uint64, now time.Time) (*storage.User, error) {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	u.Refresh(now)
	cp := *u
	return &cp, nil
}

func (s *store) updateUser(id uint64, f func(u *storage.User)) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	f(u)
	return nil
}

func (s *store) IncUserTraffic(_ context.Context, id uint64, t storage.UserTraffic) error {
	return s.updateUser(id, func(u *storage.User) {
		u.Uploaded += t.Uploaded
		u.Downloaded += t.Downloaded
		u.TrueUploaded += t.TrueUploaded
		u.TrueDownloaded += t.TrueDownloaded
		if t.Examination {
			u.Examination.Uploaded += t.Uploaded
			u.Examination.Downloaded += t.Downloaded
		}
	})
}

func (s *store) IncUserFinished(_ context.Context, id uint64) error {
	return s.updateUser(id, func(u *storage.User) { u.Finished++ })
}

func (s *store) IncUserScore(_ context.Context, id uint64, delta float64) error {
	return s.updateUser(id, func(u *storage.User) { u.Score += delta })
}

func (s *store) IncUserHnRWarning(_ context.Context, id uint64, delta int64) error {
	return s.updateUser(id, func(u *storage.User) {
		u.HnRWarning += delta
		if u.HnRWarning < 0 {
			u.HnRWarning = 0
		}
	})
}

func (s *store) SetUserSeedLeech(_ context.Context, id uint64, seeding, leeching int64) error {
	return s.updateUser(id, func(u *storage.User) {
		u.Seeding = seeding
		u.Leeching = leeching
	})
}

func copyTorrent(t *storage.Torrent) *storage.Torrent {
	cp := *t
	cp.Peers = append([]string(nil), t.Peers...)
	return &cp
}

func (s *store) PutTorrent(_ context.Context, t *storage.Torrent) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	s.torrents[t.InfoHash] = copyTorrent(t)
	return nil
}

func (s *store) Torrent(_ context.Context, ih bittorrent.InfoHash) (*storage.Torrent, error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	t, ok := s.torrents[ih]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	return copyTorrent(t), nil
}

func (s *store) RefreshTorrent(_ context.Context, ih bittorrent.InfoHash, now time.Time) (*storage.Torrent, error) {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	t, ok := s.torrents[ih]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	t.Refresh(now)
	return copyTorrent(t), nil
}

func (s *store) updateTorrent(ih bittorrent.InfoHash, f func(t *storage.Torrent)) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	t, ok := s.torrents[ih]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	f(t)
	return nil
}

func (s *store) AddTorrentPeer(_ context.Context, ih bittorrent.InfoHash, id string) error {
	return s.updateTorrent(ih, func(t *storage.Torrent) {
		if !t.HasPeer(id) {
			t.Peers = append(t.Peers, id)
		}
	})
}

func (s *store) RemoveTorrentPeer(_ context.Context, ih bittorrent.InfoHash, id string) error {
	return s.updateTorrent(ih, func(t *storage.Torrent) {
		for i, p := range t.Peers {
			if p == id {
				t.Peers = append(t.Peers[:i], t.Peers[i+1:]...)
				return
			}
		}
	})
}

func (s *store) IncTorrentFinished(_ context.Context, ih bittorrent.InfoHash) error {
	return s.updateTorrent(ih, func(t *storage.Torrent) { t.Finished++ })
}

func (s *store) SetTorrentSeedLeech(_ context.Context, ih bittorrent.InfoHash, seeds, leechers int64) error {
	return s.updateTorrent(ih, func(t *storage.Torrent) {
		t.Seeds = seeds
		t.Leechers = leechers
	})
}

func (s *store) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		s.Lock()
		close(s.closed)
		s.users = nil
		s.torrents = nil
		s.peers = nil
		s.Unlock()

		log.Info("memory: stopped store")
		c.Done()
	}()

	return c.Result()
}
