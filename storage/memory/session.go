package memory

import (
	"context"
	"sync"

	"github.com/pttracker/pttracker/bittorrent"
)

type sessionLock struct {
	held chan struct{}
	refs int
}

// sessionLocks is a set of mutexes keyed by (infohash, user), allocated on
// demand and released once nobody holds or waits for them.
type sessionLocks struct {
	sync.Mutex
	locks map[recordKey]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[recordKey]*sessionLock)}
}

func (sl *sessionLocks) acquire(k recordKey) *sessionLock {
	sl.Lock()
	defer sl.Unlock()

	l, ok := sl.locks[k]
	if !ok {
		l = &sessionLock{held: make(chan struct{}, 1)}
		sl.locks[k] = l
	}
	l.refs++
	return l
}

func (sl *sessionLocks) release(k recordKey, l *sessionLock) {
	sl.Lock()
	defer sl.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(sl.locks, k)
	}
}

func (s *store) LockSession(ctx context.Context, ih bittorrent.InfoHash, userID uint64) (func(), error) {
	k := recordKey{ih, userID}
	l := s.sessions.acquire(k)

	select {
	case l.held <- struct{}{}:
	case <-ctx.Done():
		s.sessions.release(k, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.held
			s.sessions.release(k, l)
		})
	}, nil
}
