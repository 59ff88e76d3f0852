package redis

import (
	"context"
	"math"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/pkg/errors"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
)

const sessionLockRetryDelay = 25 * time.Millisecond

// LockSession acquires a redsync mutex for the session. Retries continue
// until ctx is done; a crashed holder releases the mutex once it expires.
func (s *store) LockSession(ctx context.Context, ih bittorrent.InfoHash, userID uint64) (func(), error) {
	s.checkOpen()

	m := s.redsync.NewMutex(s.lockKey(ih, userID),
		redsync.WithExpiry(s.lockExpiry),
		redsync.WithTries(math.MaxInt32),
		redsync.WithRetryDelay(sessionLockRetryDelay),
	)

	if err := m.LockContext(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to lock session")
	}

	return func() {
		if _, err := m.Unlock(); err != nil {
			log.Error("redis: failed to unlock session", log.Fields{
				"infoHash": ih,
				"userID":   userID,
			}, log.Err(err))
		}
	}, nil
}
