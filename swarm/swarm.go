// Package swarm manages the peer sessions of the users of a private tracker:
// it resolves the announcing client to its Peer record, enforces the
// per-user session limits and removes peers that stopped or went stale.
package swarm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/storage"
)

// Limits bounds the sessions a user may keep on one torrent.
type Limits struct {
	// ActiveWindow is how long after its last announce a peer still counts
	// as active, usually the announce interval plus the idle tolerance.
	ActiveWindow time.Duration

	MaxLeech int
	MaxSeed  int
}

// Session is the result of resolving an announce to a Peer record.
type Session struct {
	// Peer is the current record. Resolve applies endpoint changes to it;
	// everything else is left for the accounting to update.
	Peer *storage.Peer

	// Baseline is the stored state of Peer before this announce.
	Baseline storage.Peer

	// New is set when Peer was created by this announce, in which case no
	// traffic baseline is known.
	New bool

	// EndpointChanged is set when the stored address or port was updated.
	EndpointChanged bool

	// BecameSeeder is set when a leeching Peer reports nothing left without
	// sending the completed event.
	BecameSeeder bool

	// Own holds the sessions of the user on the torrent, keyed by peer ID,
	// including Peer.
	Own map[bittorrent.PeerID]*storage.Peer
}

// LogFields renders the session as a set of log fields.
func (s *Session) LogFields() log.Fields {
	return log.Fields{
		"peer":            s.Peer.ID,
		"new":             s.New,
		"endpointChanged": s.EndpointChanged,
		"becameSeeder":    s.BecameSeeder,
		"ownSessions":     len(s.Own),
	}
}

// Manager implements the peer lifecycle on top of a storage.Store.
type Manager struct {
	store  storage.Store
	limits Limits
}

// NewManager creates a Manager.
func NewManager(store storage.Store, limits Limits) *Manager {
	return &Manager{store: store, limits: limits}
}

// ownSessions keeps the peers of the user that are still active or that use
// the announcing peer ID. The swarm is scanned newest first so the latest
// record wins when a peer ID appears twice.
func ownSessions(peers []*storage.Peer, userID uint64, peerID bittorrent.PeerID, cutoff time.Time) map[bittorrent.PeerID]*storage.Peer {
	own := make(map[bittorrent.PeerID]*storage.Peer)
	for i := len(peers) - 1; i >= 0; i-- {
		p := peers[i]
		if p.UserID != userID {
			continue
		}
		if !p.Active(cutoff) && p.PeerID != peerID {
			continue
		}
		if _, dup := own[p.PeerID]; !dup {
			own[p.PeerID] = p
		}
	}
	return own
}

func endpointChanged(p *storage.Peer, req *bittorrent.AnnounceRequest) bool {
	return p.IP != req.IP || p.IPv4 != req.IPv4 || p.IPv6 != req.IPv6 || p.Port != req.Port
}

// Resolve finds or creates the Peer record of the announcing client.
func (m *Manager) Resolve(ctx context.Context, req *bittorrent.AnnounceRequest, user *storage.User, now time.Time) (*Session, error) {
	peers, err := m.store.TorrentPeers(ctx, req.InfoHash)
	if err != nil {
		log.Error("swarm: failed to load peers", req, log.Err(err))
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}

	sess := &Session{Own: ownSessions(peers, user.ID, req.PeerID, now.Add(-m.limits.ActiveWindow))}

	if current, ok := sess.Own[req.PeerID]; ok {
		sess.Peer = current
		sess.Baseline = *current

		if req.Port != 0 && endpointChanged(current, req) {
			current.IP, current.IPv4, current.IPv6, current.Port = req.IP, req.IPv4, req.IPv6, req.Port
			if err := m.store.UpdatePeer(ctx, current); err != nil {
				log.Error("swarm: failed to update peer endpoint", req, log.Err(err))
			}
			sess.EndpointChanged = true
		}

		sess.BecameSeeder = req.Seeding() && !current.Seeder() && req.Event != bittorrent.Completed
		return sess, nil
	}

	p := &storage.Peer{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		InfoHash:       req.InfoHash,
		PeerID:         req.PeerID,
		IP:             req.IP,
		IPv4:           req.IPv4,
		IPv6:           req.IPv6,
		Port:           req.Port,
		Uploaded:       req.Uploaded,
		Downloaded:     req.Downloaded,
		Left:           req.Left,
		Status:         storage.PeerStatusLeecher,
		UserAgent:      req.UserAgent,
		StartedAt:      now,
		LastAnnounceAt: now,
	}
	if req.Seeding() {
		p.Status = storage.PeerStatusSeeder
		p.FinishedAt = now
	}

	if err := m.store.AddTorrentPeer(ctx, req.InfoHash, p.ID); err != nil {
		log.Error("swarm: failed to add peer to swarm", req, log.Err(err))
		return nil, bittorrent.NewFailure(bittorrent.CodeSaveTorrent)
	}
	if err := m.store.CreatePeer(ctx, p); err != nil {
		log.Error("swarm: failed to create peer", req, log.Err(err))
		return nil, bittorrent.NewFailure(bittorrent.CodeSavePeer)
	}

	sess.Peer = p
	sess.Baseline = *p
	sess.New = true
	sess.Own[p.PeerID] = p
	return sess, nil
}

// EnforceLimits counts the active sessions of the user and evicts the
// current one when the limit for its kind is exceeded.
func (m *Manager) EnforceLimits(ctx context.Context, req *bittorrent.AnnounceRequest, sess *Session) error {
	var seeders, leechers int
	for _, p := range sess.Own {
		if p.Seeder() {
			seeders++
		} else {
			leechers++
		}
	}

	var f *bittorrent.Failure
	switch seeding := req.Seeding(); {
	case !seeding && leechers > m.limits.MaxLeech:
		f = bittorrent.NewFailure(bittorrent.CodeMaxLeech, m.limits.MaxLeech)
	case seeding && seeders > m.limits.MaxSeed:
		f = bittorrent.NewFailure(bittorrent.CodeMaxSeed, m.limits.MaxSeed)
	default:
		return nil
	}

	if err := m.Remove(ctx, sess.Peer); err != nil {
		log.Error("swarm: failed to evict peer", req, log.Err(err))
	}
	delete(sess.Own, sess.Peer.PeerID)
	return f
}

// Remove takes the peer out of its swarm and deletes its record.
// Removing a peer that is already gone is not an error.
func (m *Manager) Remove(ctx context.Context, p *storage.Peer) error {
	if err := m.store.RemoveTorrentPeer(ctx, p.InfoHash, p.ID); err != nil && err != storage.ErrResourceDoesNotExist {
		return err
	}
	if err := m.store.DeletePeer(ctx, p.ID); err != nil && err != storage.ErrResourceDoesNotExist {
		return err
	}
	return nil
}

// Recount recomputes the seed and leech counters of a torrent from its swarm
// and those of a user from all of their peers.
func (m *Manager) Recount(ctx context.Context, ih bittorrent.InfoHash, userID uint64) error {
	peers, err := m.store.TorrentPeers(ctx, ih)
	if err != nil {
		return err
	}

	var seeds, leechers int64
	for _, p := range peers {
		if p.Seeder() {
			seeds++
		} else {
			leechers++
		}
	}
	if err := m.store.SetTorrentSeedLeech(ctx, ih, seeds, leechers); err != nil {
		return err
	}

	seeding, leeching, err := m.store.UserPeerCounts(ctx, userID)
	if err != nil {
		return err
	}
	return m.store.SetUserSeedLeech(ctx, userID, seeding, leeching)
}

type recountKey struct {
	infoHash bittorrent.InfoHash
	userID   uint64
}

// Prune removes every peer that did not announce after cutoff and recounts
// the torrents and users it touched. It returns the number of peers removed.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	idle, err := m.store.PeersIdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var pruned int
	touched := make(map[recountKey]struct{})
	for _, p := range idle {
		unlock, err := m.store.LockSession(ctx, p.InfoHash, p.UserID)
		if err != nil {
			return pruned, err
		}
		err = m.Remove(ctx, p)
		unlock()
		if err != nil {
			log.Error("swarm: failed to prune peer", log.Fields{"peer": p.ID}, log.Err(err))
			continue
		}

		pruned++
		touched[recountKey{p.InfoHash, p.UserID}] = struct{}{}
	}

	for k := range touched {
		err := m.Recount(ctx, k.infoHash, k.userID)
		if err != nil && err != storage.ErrResourceDoesNotExist {
			log.Error("swarm: failed to recount after pruning", log.Fields{
				"infoHash": k.infoHash,
				"userID":   k.userID,
			}, log.Err(err))
		}
	}

	storage.PromPeersPruned.Add(float64(pruned))
	return pruned, nil
}
