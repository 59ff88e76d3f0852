package storage

import (
	"time"

	"github.com/pttracker/pttracker/bittorrent"
)

// User account statuses.
const (
	UserStatusNormal   = "normal"
	UserStatusBanned   = "banned"
	UserStatusIdle     = "idle"
	UserStatusInactive = "inactive"
)

// Torrent review statuses.
const (
	TorrentStatusNew      = "new"
	TorrentStatusReviewed = "reviewed"
)

// Peer statuses.
const (
	PeerStatusSeeder  = "seeder"
	PeerStatusLeecher = "leecher"
)

// DefaultSaleStatus is the sale status of a torrent without any promotion.
const DefaultSaleStatus = "U1/D1"

// User is a tracker account. Its lifecycle is owned elsewhere; the tracker
// only increments its counters.
type User struct {
	ID        uint64
	Passkey   string
	Status    string
	IsVIP     bool
	VIPEndAt  time.Time
	IsOper    bool
	CreatedAt time.Time

	// Ratio is Uploaded/Downloaded, or -1 if nothing was downloaded yet.
	Ratio      float64
	HnRWarning int64

	Uploaded       uint64
	Downloaded     uint64
	TrueUploaded   uint64
	TrueDownloaded uint64
	Finished       int64
	Score          float64
	Seeding        int64
	Leeching       int64

	Examination Examination
}

// Examination is a probation window during which a user's traffic is
// additionally accounted.
type Examination struct {
	Start      time.Time
	End        time.Time
	Uploaded   uint64
	Downloaded uint64
}

// Active reports whether now lies within the examination window.
func (e Examination) Active(now time.Time) bool {
	if e.Start.IsZero() || e.End.IsZero() {
		return false
	}
	return !now.Before(e.Start) && now.Before(e.End)
}

// Refresh recomputes the derived fields of a User: an expired VIP status is
// revoked and the ratio is recomputed from the counters.
func (u *User) Refresh(now time.Time) {
	if u.IsVIP && !u.VIPEndAt.IsZero() && u.VIPEndAt.Before(now) {
		u.IsVIP = false
	}

	if u.Downloaded == 0 {
		u.Ratio = -1
	} else {
		u.Ratio = float64(u.Uploaded) / float64(u.Downloaded)
	}
}

// UserTraffic is a traffic increment applied to a User.
type UserTraffic struct {
	Uploaded       uint64
	Downloaded     uint64
	TrueUploaded   uint64
	TrueDownloaded uint64

	// Examination additionally increments the examination counters.
	Examination bool
}

// Torrent is a tracked torrent.
type Torrent struct {
	InfoHash  bittorrent.InfoHash
	OwnerID   uint64
	Status    string
	Size      uint64
	VIP       bool
	HnR       bool
	CreatedAt time.Time

	SaleStatus string
	// SaleExpiresAt is non-zero for a time-bounded sale.
	SaleExpiresAt time.Time

	Seeds    int64
	Leechers int64
	Finished int64

	// Peers holds the record IDs of the swarm members in insertion order.
	Peers []string
}

// OnTimedSale reports whether the sale status of the torrent expires.
func (t *Torrent) OnTimedSale() bool {
	return !t.SaleExpiresAt.IsZero()
}

// Refresh recomputes the derived fields of a Torrent: an expired sale falls
// back to the default sale status.
func (t *Torrent) Refresh(now time.Time) {
	if t.OnTimedSale() && t.SaleExpiresAt.Before(now) {
		t.SaleStatus = DefaultSaleStatus
		t.SaleExpiresAt = time.Time{}
	}
}

// HasPeer reports whether the record id is a member of the swarm.
func (t *Torrent) HasPeer(id string) bool {
	for _, p := range t.Peers {
		if p == id {
			return true
		}
	}
	return false
}

// Peer is one announcing client session of a user on a torrent.
type Peer struct {
	ID       string
	UserID   uint64
	InfoHash bittorrent.InfoHash
	PeerID   bittorrent.PeerID

	IP   string
	IPv4 string
	IPv6 string
	Port uint16

	Uploaded   uint64
	Downloaded uint64
	Left       uint64

	// USpeed and DSpeed keep the last non-zero speed, CUSpeed and CDSpeed
	// the speed measured by the latest announce.
	USpeed  uint64
	DSpeed  uint64
	CUSpeed uint64
	CDSpeed uint64

	Status    string
	UserAgent string

	StartedAt      time.Time
	LastAnnounceAt time.Time
	FinishedAt     time.Time
}

// Seeder reports whether the peer has the seeder status.
func (p *Peer) Seeder() bool {
	return p.Status == PeerStatusSeeder
}

// HasIPv4 reports whether the peer is reachable over IPv4.
func (p *Peer) HasIPv4() bool {
	return bittorrent.IsIPv4(p.IPv4)
}

// HasIPv6 reports whether the peer is reachable over IPv6.
func (p *Peer) HasIPv6() bool {
	return bittorrent.IsIPv6(p.IPv6)
}

// IPv4Only reports whether the peer is reachable over IPv4 only.
func (p *Peer) IPv4Only() bool {
	return p.HasIPv4() && !p.HasIPv6()
}

// Active reports whether the peer announced after cutoff.
func (p *Peer) Active(cutoff time.Time) bool {
	return p.LastAnnounceAt.After(cutoff)
}

// Complete tracks the Hit&Run bookkeeping of a user on a torrent.
type Complete struct {
	InfoHash        bittorrent.InfoHash
	UserID          uint64
	Complete        bool
	TotalUploaded   uint64
	TotalDownloaded uint64
	TotalSeedTime   time.Duration
	HnRWarning      bool
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// Finished records a completed download. It is never modified.
type Finished struct {
	ID        string
	UserID    uint64
	InfoHash  bittorrent.InfoHash
	IP        string
	Port      uint16
	UserAgent string
	CreatedAt time.Time
}
