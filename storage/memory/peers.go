package memory

import (
	"context"
	"time"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

func (s *store) TorrentPeers(_ context.Context, ih bittorrent.InfoHash) ([]*storage.Peer, error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	t, ok := s.torrents[ih]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	peers := make([]*storage.Peer, 0, len(t.Peers))
	for _, id := range t.Peers {
		p, ok := s.peers[id]
		if !ok {
			continue
		}
		cp := *p
		peers = append(peers, &cp)
	}

	return peers, nil
}

func index(idx map[string]struct{}, id string) map[string]struct{} {
	if idx == nil {
		idx = make(map[string]struct{})
	}
	idx[id] = struct{}{}
	return idx
}

func (s *store) CreatePeer(_ context.Context, p *storage.Peer) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	if _, ok := s.peers[p.ID]; !ok {
		storage.PromPeersCount.Inc()
	}

	cp := *p
	s.peers[p.ID] = &cp
	s.torrentPeers[p.InfoHash] = index(s.torrentPeers[p.InfoHash], p.ID)
	s.userPeers[p.UserID] = index(s.userPeers[p.UserID], p.ID)
	return nil
}

func (s *store) UpdatePeer(_ context.Context, p *storage.Peer) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	if _, ok := s.peers[p.ID]; !ok {
		return storage.ErrResourceDoesNotExist
	}

	cp := *p
	s.peers[p.ID] = &cp
	return nil
}

// deletePeer must be called with the write lock held.
func (s *store) deletePeer(id string) bool {
	p, ok := s.peers[id]
	if !ok {
		return false
	}

	delete(s.peers, id)
	delete(s.torrentPeers[p.InfoHash], id)
	if len(s.torrentPeers[p.InfoHash]) == 0 {
		delete(s.torrentPeers, p.InfoHash)
	}
	delete(s.userPeers[p.UserID], id)
	if len(s.userPeers[p.UserID]) == 0 {
		delete(s.userPeers, p.UserID)
	}

	storage.PromPeersCount.Dec()
	return true
}

func (s *store) DeletePeer(_ context.Context, id string) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	if !s.deletePeer(id) {
		return storage.ErrResourceDoesNotExist
	}
	return nil
}

func (s *store) DeleteOrphanPeers(_ context.Context, ih bittorrent.InfoHash) (int, error) {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	t, ok := s.torrents[ih]
	if !ok {
		return 0, storage.ErrResourceDoesNotExist
	}

	var orphans []string
	for id := range s.torrentPeers[ih] {
		if !t.HasPeer(id) {
			orphans = append(orphans, id)
		}
	}

	for _, id := range orphans {
		s.deletePeer(id)
	}

	return len(orphans), nil
}

func (s *store) UserPeerCounts(_ context.Context, userID uint64) (seeding, leeching int64, err error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	for id := range s.userPeers[userID] {
		if s.peers[id].Seeder() {
			seeding++
		} else {
			leeching++
		}
	}

	return seeding, leeching, nil
}

func (s *store) PeersIdleSince(_ context.Context, cutoff time.Time) ([]*storage.Peer, error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	var idle []*storage.Peer
	for _, p := range s.peers {
		if !p.Active(cutoff) {
			cp := *p
			idle = append(idle, &cp)
		}
	}

	return idle, nil
}

func (s *store) FindComplete(_ context.Context, ih bittorrent.InfoHash, userID uint64) (*storage.Complete, error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	c, ok := s.completes[recordKey{ih, userID}]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	cp := *c
	return &cp, nil
}

func (s *store) CreateComplete(_ context.Context, c *storage.Complete) (*storage.Complete, error) {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	key := recordKey{c.InfoHash, c.UserID}
	stored, ok := s.completes[key]
	if !ok {
		cp := *c
		stored = &cp
		s.completes[key] = stored
	}

	cp := *stored
	return &cp, nil
}

func (s *store) updateComplete(ih bittorrent.InfoHash, userID uint64, f func(c *storage.Complete)) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	c, ok := s.completes[recordKey{ih, userID}]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	f(c)
	return nil
}

func (s *store) IncCompleteTraffic(_ context.Context, ih bittorrent.InfoHash, userID uint64, uploaded, downloaded uint64) error {
	return s.updateComplete(ih, userID, func(c *storage.Complete) {
		c.TotalUploaded += uploaded
		c.TotalDownloaded += downloaded
	})
}

func (s *store) IncCompleteSeedTime(_ context.Context, ih bittorrent.InfoHash, userID uint64, d time.Duration) error {
	return s.updateComplete(ih, userID, func(c *storage.Complete) { c.TotalSeedTime += d })
}

func (s *store) MarkComplete(_ context.Context, ih bittorrent.InfoHash, userID uint64, at time.Time) error {
	return s.updateComplete(ih, userID, func(c *storage.Complete) {
		c.Complete = true
		c.CompletedAt = at
	})
}

func (s *store) SetCompleteWarning(_ context.Context, ih bittorrent.InfoHash, userID uint64, warning bool) error {
	return s.updateComplete(ih, userID, func(c *storage.Complete) { c.HnRWarning = warning })
}

func (s *store) CreateFinished(_ context.Context, f *storage.Finished) error {
	s.checkOpen()
	s.Lock()
	defer s.Unlock()

	cp := *f
	k := recordKey{f.InfoHash, f.UserID}
	s.finished[k] = append(s.finished[k], &cp)
	return nil
}

func (s *store) CountFinished(_ context.Context, ih bittorrent.InfoHash, userID uint64) (int, error) {
	s.checkOpen()
	s.RLock()
	defer s.RUnlock()

	return len(s.finished[recordKey{ih, userID}]), nil
}
