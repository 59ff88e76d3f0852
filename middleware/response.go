package middleware

import (
	"context"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/random"
	"github.com/pttracker/pttracker/storage"
)

// respond builds the response from the swarm as it is after accounting.
func (l *Logic) respond(ctx context.Context, a Announce) (Announce, error) {
	req := a.Request
	resp := &bittorrent.AnnounceResponse{
		Interval: l.cfg.AnnounceInterval,
		Compact:  req.Compact,
		NoPeerID: req.NoPeerID,
	}

	t, err := l.store.Torrent(ctx, req.InfoHash)
	if err != nil {
		log.Error("middleware: failed to reload torrent", a, log.Err(err))
		t = a.Torrent
	}
	resp.Complete, resp.Incomplete, resp.Downloaded = t.Seeds, t.Leechers, t.Finished

	if req.Event != bittorrent.Stopped {
		peers, err := l.store.TorrentPeers(ctx, req.InfoHash)
		if err != nil {
			log.Error("middleware: failed to load peers", a, log.Err(err))
		} else {
			resp.Peers = l.selectPeers(a, peers)
		}
	}

	a.Torrent = t
	a.Response = resp
	return a, nil
}

func (l *Logic) numWant(req *bittorrent.AnnounceRequest) int {
	if !req.NumWantProvided || req.NumWant == 0 {
		return int(l.cfg.DefaultNumWant)
	}
	if req.NumWant > l.cfg.MaxNumWant {
		return int(l.cfg.MaxNumWant)
	}
	return int(req.NumWant)
}

// selectPeers picks the peers listed to the announcing client, in random
// order. IPv4-only clients only get peers reachable over IPv4; others get
// the IPv6 address of every peer that has one.
func (l *Logic) selectPeers(a Announce, peers []*storage.Peer) []bittorrent.Peer {
	current := a.Session.Peer
	v4only := current.IPv4Only()
	cutoff := a.Now.Add(-l.cfg.ActiveWindow())

	selected := make([]bittorrent.Peer, 0, len(peers))
	for _, p := range peers {
		if p.ID == current.ID || !p.Active(cutoff) {
			continue
		}
		if p.UserID == a.User.ID && !l.cfg.IncludeOwnPeers {
			continue
		}

		var ip string
		switch {
		case v4only && p.HasIPv4():
			ip = p.IPv4
		case v4only:
			continue
		case p.HasIPv6():
			ip = p.IPv6
		case p.HasIPv4():
			ip = p.IPv4
		default:
			continue
		}

		selected = append(selected, bittorrent.Peer{ID: p.PeerID, IP: ip, Port: p.Port})
	}

	s0, s1 := random.DeriveEntropyFromRequest(a.Request, uint64(a.Now.UnixNano()))
	random.Shuffle(s0, s1, len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	if want := l.numWant(a.Request); len(selected) > want {
		selected = selected[:want]
	}
	return selected
}
