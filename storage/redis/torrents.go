package redis

import (
	"context"
	"time"

	redigolib "github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

func (s *store) PutTorrent(ctx context.Context, t *storage.Torrent) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Send("MULTI")
	c.Send("HMSET", redigolib.Args{}.Add(s.torrentKey(t.InfoHash)).AddFlat(newTorrentRecord(t))...)
	c.Send("DEL", s.swarmKey(t.InfoHash))
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrap(err, "failed to put torrent")
	}

	for _, recordID := range t.Peers {
		if err := s.addSwarmMember(c, t.InfoHash, recordID); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) torrent(c redigolib.Conn, ih bittorrent.InfoHash) (*storage.Torrent, error) {
	var rec torrentRecord
	if err := getHash(c, s.torrentKey(ih), &rec); err != nil {
		return nil, err
	}

	peers, err := redigolib.Strings(c.Do("ZRANGE", s.swarmKey(ih), 0, -1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read swarm")
	}

	return rec.torrent(peers), nil
}

func (s *store) Torrent(ctx context.Context, ih bittorrent.InfoHash) (*storage.Torrent, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return s.torrent(c, ih)
}

func (s *store) RefreshTorrent(ctx context.Context, ih bittorrent.InfoHash, now time.Time) (*storage.Torrent, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	t, err := s.torrent(c, ih)
	if err != nil {
		return nil, err
	}

	t.Refresh(now)
	_, err = c.Do("HMSET", s.torrentKey(ih),
		"sale_status", t.SaleStatus,
		"sale_expires_at", unixNano(t.SaleExpiresAt))
	if err != nil {
		return nil, errors.Wrap(err, "failed to refresh torrent")
	}
	return t, nil
}

// addSwarmMember appends recordID to the swarm unless it already is a member.
// Members are scored by a global sequence so the swarm keeps insertion order.
func (s *store) addSwarmMember(c redigolib.Conn, ih bittorrent.InfoHash, recordID string) error {
	_, err := redigolib.Float64(c.Do("ZSCORE", s.swarmKey(ih), recordID))
	if err == nil {
		return nil
	} else if err != redigolib.ErrNil {
		return errors.Wrap(err, "failed to read swarm member")
	}

	seq, err := redigolib.Int64(c.Do("INCR", s.swarmSeqKey()))
	if err != nil {
		return errors.Wrap(err, "failed to allocate swarm position")
	}

	if _, err := c.Do("ZADD", s.swarmKey(ih), seq, recordID); err != nil {
		return errors.Wrap(err, "failed to add swarm member")
	}
	return nil
}

func (s *store) AddTorrentPeer(ctx context.Context, ih bittorrent.InfoHash, recordID string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.torrentKey(ih)); err != nil {
		return err
	}
	return s.addSwarmMember(c, ih, recordID)
}

func (s *store) RemoveTorrentPeer(ctx context.Context, ih bittorrent.InfoHash, recordID string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.torrentKey(ih)); err != nil {
		return err
	}
	if _, err := c.Do("ZREM", s.swarmKey(ih), recordID); err != nil {
		return errors.Wrap(err, "failed to remove swarm member")
	}
	return nil
}

func (s *store) IncTorrentFinished(ctx context.Context, ih bittorrent.InfoHash) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return incr(c, s.torrentKey(ih), "finished", 1)
}

func (s *store) SetTorrentSeedLeech(ctx context.Context, ih bittorrent.InfoHash, seeds, leechers int64) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.torrentKey(ih)); err != nil {
		return err
	}
	if _, err := c.Do("HMSET", s.torrentKey(ih), "seeds", seeds, "leechers", leechers); err != nil {
		return errors.Wrap(err, "failed to set torrent seed/leech counts")
	}
	return nil
}
