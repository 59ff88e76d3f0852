package redis

import (
	"time"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

// Records are flattened into redis hashes with redigo's AddFlat and read back
// with ScanStruct. Times are stored as Unix nanoseconds, 0 being the zero time.

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func parseInfoHash(s string) bittorrent.InfoHash {
	ih, err := bittorrent.InfoHashFromHexString(s)
	if err != nil {
		return bittorrent.InfoHash{}
	}
	return ih
}

type userRecord struct {
	ID             uint64  `redis:"id"`
	Passkey        string  `redis:"passkey"`
	Status         string  `redis:"status"`
	IsVIP          bool    `redis:"vip"`
	VIPEndAt       int64   `redis:"vip_end_at"`
	IsOper         bool    `redis:"oper"`
	CreatedAt      int64   `redis:"created_at"`
	Ratio          float64 `redis:"ratio"`
	HnRWarning     int64   `redis:"hnr_warning"`
	Uploaded       uint64  `redis:"uploaded"`
	Downloaded     uint64  `redis:"downloaded"`
	TrueUploaded   uint64  `redis:"true_uploaded"`
	TrueDownloaded uint64  `redis:"true_downloaded"`
	Finished       int64   `redis:"finished"`
	Score          float64 `redis:"score"`
	Seeding        int64   `redis:"seeding"`
	Leeching       int64   `redis:"leeching"`
	ExamStart      int64   `redis:"exam_start"`
	ExamEnd        int64   `redis:"exam_end"`
	ExamUploaded   uint64  `redis:"exam_uploaded"`
	ExamDownloaded uint64  `redis:"exam_downloaded"`
}

func newUserRecord(u *storage.User) *userRecord {
	return &userRecord{
		ID:             u.ID,
		Passkey:        u.Passkey,
		Status:         u.Status,
		IsVIP:          u.IsVIP,
		VIPEndAt:       unixNano(u.VIPEndAt),
		IsOper:         u.IsOper,
		CreatedAt:      unixNano(u.CreatedAt),
		Ratio:          u.Ratio,
		HnRWarning:     u.HnRWarning,
		Uploaded:       u.Uploaded,
		Downloaded:     u.Downloaded,
		TrueUploaded:   u.TrueUploaded,
		TrueDownloaded: u.TrueDownloaded,
		Finished:       u.Finished,
		Score:          u.Score,
		Seeding:        u.Seeding,
		Leeching:       u.Leeching,
		ExamStart:      unixNano(u.Examination.Start),
		ExamEnd:        unixNano(u.Examination.End),
		ExamUploaded:   u.Examination.Uploaded,
		ExamDownloaded: u.Examination.Downloaded,
	}
}

func (r *userRecord) user() *storage.User {
	return &storage.User{
		ID:             r.ID,
		Passkey:        r.Passkey,
		Status:         r.Status,
		IsVIP:          r.IsVIP,
		VIPEndAt:       fromUnixNano(r.VIPEndAt),
		IsOper:         r.IsOper,
		CreatedAt:      fromUnixNano(r.CreatedAt),
		Ratio:          r.Ratio,
		HnRWarning:     r.HnRWarning,
		Uploaded:       r.Uploaded,
		Downloaded:     r.Downloaded,
		TrueUploaded:   r.TrueUploaded,
		TrueDownloaded: r.TrueDownloaded,
		Finished:       r.Finished,
		Score:          r.Score,
		Seeding:        r.Seeding,
		Leeching:       r.Leeching,
		Examination: storage.Examination{
			Start:      fromUnixNano(r.ExamStart),
			End:        fromUnixNano(r.ExamEnd),
			Uploaded:   r.ExamUploaded,
			Downloaded: r.ExamDownloaded,
		},
	}
}

// torrentRecord holds everything but the swarm, which is a sorted set.
type torrentRecord struct {
	InfoHash      string `redis:"info_hash"`
	OwnerID       uint64 `redis:"owner_id"`
	Status        string `redis:"status"`
	Size          uint64 `redis:"size"`
	VIP           bool   `redis:"vip"`
	HnR           bool   `redis:"hnr"`
	CreatedAt     int64  `redis:"created_at"`
	SaleStatus    string `redis:"sale_status"`
	SaleExpiresAt int64  `redis:"sale_expires_at"`
	Seeds         int64  `redis:"seeds"`
	Leechers      int64  `redis:"leechers"`
	Finished      int64  `redis:"finished"`
}

func newTorrentRecord(t *storage.Torrent) *torrentRecord {
	return &torrentRecord{
		InfoHash:      t.InfoHash.String(),
		OwnerID:       t.OwnerID,
		Status:        t.Status,
		Size:          t.Size,
		VIP:           t.VIP,
		HnR:           t.HnR,
		CreatedAt:     unixNano(t.CreatedAt),
		SaleStatus:    t.SaleStatus,
		SaleExpiresAt: unixNano(t.SaleExpiresAt),
		Seeds:         t.Seeds,
		Leechers:      t.Leechers,
		Finished:      t.Finished,
	}
}

func (r *torrentRecord) torrent(peers []string) *storage.Torrent {
	return &storage.Torrent{
		InfoHash:      parseInfoHash(r.InfoHash),
		OwnerID:       r.OwnerID,
		Status:        r.Status,
		Size:          r.Size,
		VIP:           r.VIP,
		HnR:           r.HnR,
		CreatedAt:     fromUnixNano(r.CreatedAt),
		SaleStatus:    r.SaleStatus,
		SaleExpiresAt: fromUnixNano(r.SaleExpiresAt),
		Seeds:         r.Seeds,
		Leechers:      r.Leechers,
		Finished:      r.Finished,
		Peers:         peers,
	}
}

type peerRecord struct {
	ID             string `redis:"id"`
	UserID         uint64 `redis:"user_id"`
	InfoHash       string `redis:"info_hash"`
	PeerID         string `redis:"peer_id"`
	IP             string `redis:"ip"`
	IPv4           string `redis:"ipv4"`
	IPv6           string `redis:"ipv6"`
	Port           uint16 `redis:"port"`
	Uploaded       uint64 `redis:"uploaded"`
	Downloaded     uint64 `redis:"downloaded"`
	Left           uint64 `redis:"left"`
	USpeed         uint64 `redis:"uspeed"`
	DSpeed         uint64 `redis:"dspeed"`
	CUSpeed        uint64 `redis:"cuspeed"`
	CDSpeed        uint64 `redis:"cdspeed"`
	Status         string `redis:"status"`
	UserAgent      string `redis:"user_agent"`
	StartedAt      int64  `redis:"started_at"`
	LastAnnounceAt int64  `redis:"last_announce_at"`
	FinishedAt     int64  `redis:"finished_at"`
}

func newPeerRecord(p *storage.Peer) *peerRecord {
	return &peerRecord{
		ID:             p.ID,
		UserID:         p.UserID,
		InfoHash:       p.InfoHash.String(),
		PeerID:         p.PeerID.String(),
		IP:             p.IP,
		IPv4:           p.IPv4,
		IPv6:           p.IPv6,
		Port:           p.Port,
		Uploaded:       p.Uploaded,
		Downloaded:     p.Downloaded,
		Left:           p.Left,
		USpeed:         p.USpeed,
		DSpeed:         p.DSpeed,
		CUSpeed:        p.CUSpeed,
		CDSpeed:        p.CDSpeed,
		Status:         p.Status,
		UserAgent:      p.UserAgent,
		StartedAt:      unixNano(p.StartedAt),
		LastAnnounceAt: unixNano(p.LastAnnounceAt),
		FinishedAt:     unixNano(p.FinishedAt),
	}
}

func (r *peerRecord) peer() *storage.Peer {
	p := &storage.Peer{
		ID:             r.ID,
		UserID:         r.UserID,
		InfoHash:       parseInfoHash(r.InfoHash),
		IP:             r.IP,
		IPv4:           r.IPv4,
		IPv6:           r.IPv6,
		Port:           r.Port,
		Uploaded:       r.Uploaded,
		Downloaded:     r.Downloaded,
		Left:           r.Left,
		USpeed:         r.USpeed,
		DSpeed:         r.DSpeed,
		CUSpeed:        r.CUSpeed,
		CDSpeed:        r.CDSpeed,
		Status:         r.Status,
		UserAgent:      r.UserAgent,
		StartedAt:      fromUnixNano(r.StartedAt),
		LastAnnounceAt: fromUnixNano(r.LastAnnounceAt),
		FinishedAt:     fromUnixNano(r.FinishedAt),
	}
	if len(r.PeerID) == 40 {
		p.PeerID = bittorrent.PeerIDFromHexString(r.PeerID)
	}
	return p
}

// lastAnnounceScore is the score of a peer in the last announce index.
// Microseconds keep the score exact in a float64.
func lastAnnounceScore(t time.Time) int64 {
	return t.UnixNano() / int64(time.Microsecond)
}

type completeRecord struct {
	InfoHash        string `redis:"info_hash"`
	UserID          uint64 `redis:"user_id"`
	Complete        bool   `redis:"complete"`
	TotalUploaded   uint64 `redis:"total_uploaded"`
	TotalDownloaded uint64 `redis:"total_downloaded"`
	TotalSeedTime   int64  `redis:"total_seed_time"`
	HnRWarning      bool   `redis:"hnr_warning"`
	CreatedAt       int64  `redis:"created_at"`
	CompletedAt     int64  `redis:"completed_at"`
}

func newCompleteRecord(c *storage.Complete) *completeRecord {
	return &completeRecord{
		InfoHash:        c.InfoHash.String(),
		UserID:          c.UserID,
		Complete:        c.Complete,
		TotalUploaded:   c.TotalUploaded,
		TotalDownloaded: c.TotalDownloaded,
		TotalSeedTime:   int64(c.TotalSeedTime),
		HnRWarning:      c.HnRWarning,
		CreatedAt:       unixNano(c.CreatedAt),
		CompletedAt:     unixNano(c.CompletedAt),
	}
}

func (r *completeRecord) complete() *storage.Complete {
	return &storage.Complete{
		InfoHash:        parseInfoHash(r.InfoHash),
		UserID:          r.UserID,
		Complete:        r.Complete,
		TotalUploaded:   r.TotalUploaded,
		TotalDownloaded: r.TotalDownloaded,
		TotalSeedTime:   time.Duration(r.TotalSeedTime),
		HnRWarning:      r.HnRWarning,
		CreatedAt:       fromUnixNano(r.CreatedAt),
		CompletedAt:     fromUnixNano(r.CompletedAt),
	}
}

type finishedRecord struct {
	ID        string `redis:"id"`
	UserID    uint64 `redis:"user_id"`
	InfoHash  string `redis:"info_hash"`
	IP        string `redis:"ip"`
	Port      uint16 `redis:"port"`
	UserAgent string `redis:"user_agent"`
	CreatedAt int64  `redis:"created_at"`
}

func newFinishedRecord(f *storage.Finished) *finishedRecord {
	return &finishedRecord{
		ID:        f.ID,
		UserID:    f.UserID,
		InfoHash:  f.InfoHash.String(),
		IP:        f.IP,
		Port:      f.Port,
		UserAgent: f.UserAgent,
		CreatedAt: unixNano(f.CreatedAt),
	}
}
