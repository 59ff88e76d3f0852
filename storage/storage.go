// Package storage defines the records of a private tracker and the interfaces
// used to persist them, such that they can be implemented for various data
// stores.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/stop"
)

var (
	driversM sync.RWMutex
	drivers  = make(map[string]Driver)
)

// Driver is the interface used to initialize a new type of Store.
type Driver interface {
	NewStore(cfg interface{}) (Store, error)
}

// ErrResourceDoesNotExist is the error returned by a Store when the requested
// record does not exist.
var ErrResourceDoesNotExist = errors.New("resource does not exist")

// ErrDriverDoesNotExist is the error returned by NewStore when a store driver
// with that name does not exist.
var ErrDriverDoesNotExist = errors.New("store driver with that name does not exist")

// UserStore gives access to the accounts of the tracker.
type UserStore interface {
	// PutUser creates or replaces a User.
	PutUser(ctx context.Context, u *User) error

	// UserByPasskey returns the User owning passkey.
	//
	// Returns ErrResourceDoesNotExist if no User owns the passkey.
	UserByPasskey(ctx context.Context, passkey string) (*User, error)

	// RefreshUser recomputes and persists the derived fields of a User (see
	// (*User).Refresh) and returns the refreshed User.
	RefreshUser(ctx context.Context, id uint64, now time.Time) (*User, error)

	// IncUserTraffic atomically adds the traffic to the counters of a User.
	IncUserTraffic(ctx context.Context, id uint64, t UserTraffic) error

	// IncUserFinished atomically increments the finished counter of a User.
	IncUserFinished(ctx context.Context, id uint64) error

	// IncUserScore atomically adds delta to the score of a User.
	IncUserScore(ctx context.Context, id uint64, delta float64) error

	// IncUserHnRWarning atomically adds delta to the Hit&Run warning counter
	// of a User. The counter never goes below zero.
	IncUserHnRWarning(ctx context.Context, id uint64, delta int64) error

	// SetUserSeedLeech sets the seeding and leeching counters of a User.
	SetUserSeedLeech(ctx context.Context, id uint64, seeding, leeching int64) error
}

// TorrentStore gives access to the tracked torrents.
type TorrentStore interface {
	// PutTorrent creates or replaces a Torrent, including its swarm.
	PutTorrent(ctx context.Context, t *Torrent) error

	// Torrent returns the Torrent identified by infoHash.
	//
	// Returns ErrResourceDoesNotExist if the Torrent is not tracked.
	Torrent(ctx context.Context, infoHash bittorrent.InfoHash) (*Torrent, error)

	// RefreshTorrent recomputes and persists the derived fields of a
	// Torrent (see (*Torrent).Refresh) and returns the refreshed Torrent.
	RefreshTorrent(ctx context.Context, infoHash bittorrent.InfoHash, now time.Time) (*Torrent, error)

	// AddTorrentPeer appends a Peer record id to the swarm of a Torrent.
	// Adding an id twice is a no-op.
	AddTorrentPeer(ctx context.Context, infoHash bittorrent.InfoHash, peerID string) error

	// RemoveTorrentPeer removes a Peer record id from the swarm of a
	// Torrent. Removing an absent id is a no-op.
	RemoveTorrentPeer(ctx context.Context, infoHash bittorrent.InfoHash, peerID string) error

	// IncTorrentFinished atomically increments the finished counter.
	IncTorrentFinished(ctx context.Context, infoHash bittorrent.InfoHash) error

	// SetTorrentSeedLeech sets the seeds and leechers counters.
	SetTorrentSeedLeech(ctx context.Context, infoHash bittorrent.InfoHash, seeds, leechers int64) error
}

// PeerStore gives access to the Peer records.
type PeerStore interface {
	// TorrentPeers returns the Peers referenced by the swarm of a Torrent,
	// in swarm order. Ids without a record are skipped.
	TorrentPeers(ctx context.Context, infoHash bittorrent.InfoHash) ([]*Peer, error)

	// CreatePeer stores a new Peer.
	CreatePeer(ctx context.Context, p *Peer) error

	// UpdatePeer replaces the stored Peer with the same ID.
	//
	// Returns ErrResourceDoesNotExist if no such Peer exists.
	UpdatePeer(ctx context.Context, p *Peer) error

	// DeletePeer deletes the Peer with the given record id.
	//
	// Returns ErrResourceDoesNotExist if no such Peer exists.
	DeletePeer(ctx context.Context, id string) error

	// DeleteOrphanPeers deletes every Peer of a Torrent that is not
	// referenced by its swarm and returns how many were deleted.
	DeleteOrphanPeers(ctx context.Context, infoHash bittorrent.InfoHash) (int, error)

	// UserPeerCounts returns the number of seeding and leeching Peers of a
	// User across all torrents.
	UserPeerCounts(ctx context.Context, userID uint64) (seeding, leeching int64, err error)

	// PeersIdleSince returns every Peer that did not announce after cutoff.
	PeersIdleSince(ctx context.Context, cutoff time.Time) ([]*Peer, error)
}

// CompleteStore gives access to the Hit&Run bookkeeping.
type CompleteStore interface {
	// FindComplete returns the Complete of a User on a Torrent.
	//
	// Returns ErrResourceDoesNotExist if there is none.
	FindComplete(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64) (*Complete, error)

	// CreateComplete stores c unless the User already has a Complete on the
	// Torrent, and returns the record that is stored afterwards. An existing
	// record is never overwritten.
	CreateComplete(ctx context.Context, c *Complete) (*Complete, error)

	// IncCompleteTraffic atomically adds to the traffic totals.
	IncCompleteTraffic(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64, uploaded, downloaded uint64) error

	// IncCompleteSeedTime atomically adds to the total seed time.
	IncCompleteSeedTime(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64, d time.Duration) error

	// MarkComplete flags the torrent as fully downloaded by the User.
	MarkComplete(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64, at time.Time) error

	// SetCompleteWarning sets the Hit&Run warning flag.
	SetCompleteWarning(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64, warning bool) error
}

// FinishedStore gives access to the append-only completion records.
type FinishedStore interface {
	// CreateFinished appends a Finished record.
	CreateFinished(ctx context.Context, f *Finished) error

	// CountFinished returns the number of Finished records of a User on a
	// Torrent.
	CountFinished(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64) (int, error)
}

// Locker serializes the announces of one user on one torrent.
type Locker interface {
	// LockSession blocks until the session lock is acquired or ctx is
	// done. The returned function releases the lock.
	LockSession(ctx context.Context, infoHash bittorrent.InfoHash, userID uint64) (unlock func(), err error)
}

// Store is the union of everything the tracker persists.
type Store interface {
	UserStore
	TorrentStore
	PeerStore
	CompleteStore
	FinishedStore
	Locker

	// stop is an interface that expects a Stop method to stop the Store.
	// For more details see the documentation in the stop package.
	stop.Stopper
}

// RegisterDriver makes a Driver available by the provided name.
//
// If called twice with the same name, the name is blank, or if the provided
// Driver is nil, this function panics.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("storage: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("storage: could not register a nil Driver")
	}

	driversM.Lock()
	defer driversM.Unlock()

	if _, dup := drivers[name]; dup {
		panic("storage: RegisterDriver called twice for " + name)
	}

	drivers[name] = d
}

// NewStore attempts to initialize a new Store with given a name from the list
// of registered Drivers.
//
// If a driver does not exist, returns ErrDriverDoesNotExist.
func NewStore(name string, cfg interface{}) (Store, error) {
	driversM.RLock()
	defer driversM.RUnlock()

	d, ok := drivers[name]
	if !ok {
		return nil, ErrDriverDoesNotExist
	}

	return d.NewStore(cfg)
}
