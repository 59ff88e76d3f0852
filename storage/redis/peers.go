package redis

import (
	"context"
	"time"

	redigolib "github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

// loadPeers reads the peers with the given record IDs in a single pipeline.
// IDs without a record are skipped.
func (s *store) loadPeers(c redigolib.Conn, recordIDs []string) ([]*storage.Peer, error) {
	for _, recordID := range recordIDs {
		if err := c.Send("HGETALL", s.peerKey(recordID)); err != nil {
			return nil, errors.Wrap(err, "failed to queue peer read")
		}
	}
	if err := c.Flush(); err != nil {
		return nil, errors.Wrap(err, "failed to read peers")
	}

	peers := make([]*storage.Peer, 0, len(recordIDs))
	for range recordIDs {
		values, err := redigolib.Values(c.Receive())
		if err != nil {
			return nil, errors.Wrap(err, "failed to read peer")
		}
		if len(values) == 0 {
			continue
		}

		var rec peerRecord
		if err := redigolib.ScanStruct(values, &rec); err != nil {
			return nil, errors.Wrap(err, "failed to decode peer")
		}
		peers = append(peers, rec.peer())
	}

	return peers, nil
}

func (s *store) TorrentPeers(ctx context.Context, ih bittorrent.InfoHash) ([]*storage.Peer, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := mustExist(c, s.torrentKey(ih)); err != nil {
		return nil, err
	}

	ids, err := redigolib.Strings(c.Do("ZRANGE", s.swarmKey(ih), 0, -1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read swarm")
	}

	return s.loadPeers(c, ids)
}

func (s *store) CreatePeer(ctx context.Context, p *storage.Peer) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	existed, err := redigolib.Bool(c.Do("EXISTS", s.peerKey(p.ID)))
	if err != nil {
		return errors.Wrap(err, "failed to check peer")
	}

	c.Send("MULTI")
	c.Send("HMSET", redigolib.Args{}.Add(s.peerKey(p.ID)).AddFlat(newPeerRecord(p))...)
	c.Send("SADD", s.torrentPeersKey(p.InfoHash), p.ID)
	c.Send("SADD", s.userPeersKey(p.UserID), p.ID)
	c.Send("ZADD", s.lastAnnounceKey(), lastAnnounceScore(p.LastAnnounceAt), p.ID)
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrap(err, "failed to create peer")
	}

	if !existed {
		storage.PromPeersCount.Inc()
	}
	return nil
}

func (s *store) UpdatePeer(ctx context.Context, p *storage.Peer) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.peerKey(p.ID)); err != nil {
		return err
	}

	c.Send("MULTI")
	c.Send("HMSET", redigolib.Args{}.Add(s.peerKey(p.ID)).AddFlat(newPeerRecord(p))...)
	c.Send("ZADD", s.lastAnnounceKey(), lastAnnounceScore(p.LastAnnounceAt), p.ID)
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrap(err, "failed to update peer")
	}
	return nil
}

func (s *store) deletePeer(c redigolib.Conn, recordID string) error {
	values, err := redigolib.Strings(c.Do("HMGET", s.peerKey(recordID), "info_hash", "user_id"))
	if err != nil {
		return errors.Wrap(err, "failed to read peer")
	}
	if len(values) != 2 || values[0] == "" {
		return storage.ErrResourceDoesNotExist
	}

	c.Send("MULTI")
	c.Send("DEL", s.peerKey(recordID))
	c.Send("SREM", s.key("torrent", values[0], "peers"), recordID)
	c.Send("SREM", s.key("user", values[1], "peers"), recordID)
	c.Send("ZREM", s.lastAnnounceKey(), recordID)
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrap(err, "failed to delete peer")
	}

	storage.PromPeersCount.Dec()
	return nil
}

func (s *store) DeletePeer(ctx context.Context, recordID string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return s.deletePeer(c, recordID)
}

func (s *store) DeleteOrphanPeers(ctx context.Context, ih bittorrent.InfoHash) (int, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	if err := mustExist(c, s.torrentKey(ih)); err != nil {
		return 0, err
	}

	stored, err := redigolib.Strings(c.Do("SMEMBERS", s.torrentPeersKey(ih)))
	if err != nil {
		return 0, errors.Wrap(err, "failed to read torrent peers")
	}

	var deleted int
	for _, recordID := range stored {
		_, err := redigolib.Float64(c.Do("ZSCORE", s.swarmKey(ih), recordID))
		if err == nil {
			continue
		} else if err != redigolib.ErrNil {
			return deleted, errors.Wrap(err, "failed to read swarm member")
		}

		err = s.deletePeer(c, recordID)
		if err == storage.ErrResourceDoesNotExist {
			continue
		} else if err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

func (s *store) UserPeerCounts(ctx context.Context, userID uint64) (seeding, leeching int64, err error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer c.Close()

	ids, err := redigolib.Strings(c.Do("SMEMBERS", s.userPeersKey(userID)))
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read user peers")
	}

	peers, err := s.loadPeers(c, ids)
	if err != nil {
		return 0, 0, err
	}

	for _, p := range peers {
		if p.Seeder() {
			seeding++
		} else {
			leeching++
		}
	}
	return seeding, leeching, nil
}

func (s *store) PeersIdleSince(ctx context.Context, cutoff time.Time) ([]*storage.Peer, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ids, err := redigolib.Strings(c.Do("ZRANGEBYSCORE", s.lastAnnounceKey(), "-inf", lastAnnounceScore(cutoff)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read idle peers")
	}

	return s.loadPeers(c, ids)
}

func (s *store) FindComplete(ctx context.Context, ih bittorrent.InfoHash, userID uint64) (*storage.Complete, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var rec completeRecord
	if err := getHash(c, s.completeKey(ih, userID), &rec); err != nil {
		return nil, err
	}
	return rec.complete(), nil
}

// createIfAbsent writes the hash KEYS[1] from the field/value pairs in ARGV
// only when the key does not exist yet. It returns 1 when it wrote.
var createIfAbsent = redigolib.NewScript(1, `
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HMSET", KEYS[1], unpack(ARGV))
return 1
`)

func (s *store) CreateComplete(ctx context.Context, cmp *storage.Complete) (*storage.Complete, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	key := s.completeKey(cmp.InfoHash, cmp.UserID)
	created, err := redigolib.Bool(createIfAbsent.Do(c, redigolib.Args{}.Add(key).AddFlat(newCompleteRecord(cmp))...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create complete")
	}
	if created {
		cp := *cmp
		return &cp, nil
	}

	var rec completeRecord
	if err := getHash(c, key, &rec); err != nil {
		return nil, err
	}
	return rec.complete(), nil
}

func (s *store) IncCompleteTraffic(ctx context.Context, ih bittorrent.InfoHash, userID uint64, uploaded, downloaded uint64) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return incr(c, s.completeKey(ih, userID), "total_uploaded", uploaded, "total_downloaded", downloaded)
}

func (s *store) IncCompleteSeedTime(ctx context.Context, ih bittorrent.InfoHash, userID uint64, d time.Duration) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return incr(c, s.completeKey(ih, userID), "total_seed_time", int64(d))
}

func (s *store) setComplete(ctx context.Context, ih bittorrent.InfoHash, userID uint64, pairs ...interface{}) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	key := s.completeKey(ih, userID)
	if err := mustExist(c, key); err != nil {
		return err
	}
	if _, err := c.Do("HMSET", append([]interface{}{key}, pairs...)...); err != nil {
		return errors.Wrap(err, "failed to update complete")
	}
	return nil
}

func (s *store) MarkComplete(ctx context.Context, ih bittorrent.InfoHash, userID uint64, at time.Time) error {
	return s.setComplete(ctx, ih, userID, "complete", true, "completed_at", unixNano(at))
}

func (s *store) SetCompleteWarning(ctx context.Context, ih bittorrent.InfoHash, userID uint64, warning bool) error {
	return s.setComplete(ctx, ih, userID, "hnr_warning", warning)
}

func (s *store) CreateFinished(ctx context.Context, f *storage.Finished) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Send("MULTI")
	c.Send("HMSET", redigolib.Args{}.Add(s.finishedKey(f.ID)).AddFlat(newFinishedRecord(f))...)
	c.Send("RPUSH", s.finishedListKey(f.InfoHash, f.UserID), f.ID)
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrap(err, "failed to create finished")
	}
	return nil
}

func (s *store) CountFinished(ctx context.Context, ih bittorrent.InfoHash, userID uint64) (int, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	n, err := redigolib.Int(c.Do("LLEN", s.finishedListKey(ih, userID)))
	if err != nil {
		return 0, errors.Wrap(err, "failed to count finished")
	}
	return n, nil
}
