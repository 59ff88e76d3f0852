package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
)

// TestStore tests a Store implementation against the interface.
//
// The Store must be empty and is stopped at the end of the test.
func TestStore(t *testing.T, s Store) {
	defer func() {
		errs := s.Stop().Wait()
		require.Empty(t, errs)
	}()

	t.Run("users", func(t *testing.T) { testUsers(t, s) })
	t.Run("torrents", func(t *testing.T) { testTorrents(t, s) })
	t.Run("peers", func(t *testing.T) { testPeers(t, s) })
	t.Run("completes", func(t *testing.T) { testCompletes(t, s) })
	t.Run("finished", func(t *testing.T) { testFinished(t, s) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, s) })
}

var (
	testNow       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testInfoHash  = bittorrent.InfoHashFromString("00000000000000000001")
	testInfoHash2 = bittorrent.InfoHashFromString("00000000000000000002")
)

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.UserByPasskey(ctx, "00000000000000000000000000000000")
	require.Equal(t, ErrResourceDoesNotExist, err)

	u := &User{
		ID:        1,
		Passkey:   "0123456789abcdef0123456789abcdef",
		Status:    UserStatusNormal,
		IsVIP:     true,
		VIPEndAt:  testNow.Add(-time.Hour),
		CreatedAt: testNow.Add(-24 * time.Hour),
		Ratio:     -1,
		Examination: Examination{
			Start: testNow.Add(-time.Hour),
			End:   testNow.Add(time.Hour),
		},
	}
	require.Nil(t, s.PutUser(ctx, u))

	got, err := s.UserByPasskey(ctx, u.Passkey)
	require.Nil(t, err)
	require.Equal(t, uint64(1), got.ID)
	require.True(t, got.IsVIP)
	require.True(t, got.CreatedAt.Equal(u.CreatedAt))

	require.Nil(t, s.IncUserTraffic(ctx, 1, UserTraffic{Uploaded: 100, Downloaded: 50, TrueUploaded: 200, TrueDownloaded: 100, Examination: true}))
	require.Nil(t, s.IncUserTraffic(ctx, 1, UserTraffic{Uploaded: 100}))
	require.Nil(t, s.IncUserFinished(ctx, 1))
	require.Nil(t, s.IncUserScore(ctx, 1, 1.25))
	require.Nil(t, s.IncUserScore(ctx, 1, 0.5))
	require.Nil(t, s.IncUserHnRWarning(ctx, 1, 1))
	require.Nil(t, s.IncUserHnRWarning(ctx, 1, -1))
	require.Nil(t, s.IncUserHnRWarning(ctx, 1, -1))
	require.Nil(t, s.SetUserSeedLeech(ctx, 1, 2, 1))

	got, err = s.RefreshUser(ctx, 1, testNow)
	require.Nil(t, err)
	require.False(t, got.IsVIP, "an expired VIP status must be revoked")
	require.Equal(t, 4.0, got.Ratio)
	require.Equal(t, uint64(200), got.Uploaded)
	require.Equal(t, uint64(50), got.Downloaded)
	require.Equal(t, uint64(200), got.TrueUploaded)
	require.Equal(t, uint64(100), got.TrueDownloaded)
	require.Equal(t, uint64(100), got.Examination.Uploaded)
	require.Equal(t, uint64(50), got.Examination.Downloaded)
	require.Equal(t, int64(1), got.Finished)
	require.InDelta(t, 1.75, got.Score, 1e-9)
	require.Equal(t, int64(0), got.HnRWarning)
	require.Equal(t, int64(2), got.Seeding)
	require.Equal(t, int64(1), got.Leeching)

	got, err = s.UserByPasskey(ctx, u.Passkey)
	require.Nil(t, err)
	require.False(t, got.IsVIP, "the refresh must be persisted")

	_, err = s.RefreshUser(ctx, 404, testNow)
	require.Equal(t, ErrResourceDoesNotExist, err)
}

func testTorrents(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Torrent(ctx, testInfoHash)
	require.Equal(t, ErrResourceDoesNotExist, err)

	tr := &Torrent{
		InfoHash:      testInfoHash,
		OwnerID:       1,
		Status:        TorrentStatusReviewed,
		Size:          1 << 30,
		HnR:           true,
		SaleStatus:    "U2/FREE",
		SaleExpiresAt: testNow.Add(-time.Minute),
		CreatedAt:     testNow.Add(-48 * time.Hour),
	}
	require.Nil(t, s.PutTorrent(ctx, tr))

	require.Nil(t, s.AddTorrentPeer(ctx, testInfoHash, "b"))
	require.Nil(t, s.AddTorrentPeer(ctx, testInfoHash, "a"))
	require.Nil(t, s.AddTorrentPeer(ctx, testInfoHash, "b"))
	require.Nil(t, s.AddTorrentPeer(ctx, testInfoHash, "c"))
	require.Nil(t, s.RemoveTorrentPeer(ctx, testInfoHash, "a"))
	require.Nil(t, s.RemoveTorrentPeer(ctx, testInfoHash, "absent"))
	require.Nil(t, s.IncTorrentFinished(ctx, testInfoHash))
	require.Nil(t, s.IncTorrentFinished(ctx, testInfoHash))
	require.Nil(t, s.SetTorrentSeedLeech(ctx, testInfoHash, 3, 4))

	got, err := s.Torrent(ctx, testInfoHash)
	require.Nil(t, err)
	require.Equal(t, []string{"b", "c"}, got.Peers)
	require.Equal(t, int64(2), got.Finished)
	require.Equal(t, int64(3), got.Seeds)
	require.Equal(t, int64(4), got.Leechers)
	require.Equal(t, uint64(1<<30), got.Size)
	require.True(t, got.HnR)
	require.True(t, got.OnTimedSale())

	got, err = s.RefreshTorrent(ctx, testInfoHash, testNow)
	require.Nil(t, err)
	require.Equal(t, DefaultSaleStatus, got.SaleStatus)
	require.False(t, got.OnTimedSale())

	got, err = s.Torrent(ctx, testInfoHash)
	require.Nil(t, err)
	require.Equal(t, DefaultSaleStatus, got.SaleStatus, "the refresh must be persisted")

	require.Nil(t, s.RemoveTorrentPeer(ctx, testInfoHash, "b"))
	require.Nil(t, s.RemoveTorrentPeer(ctx, testInfoHash, "c"))
}

func testPeers(t *testing.T, s Store) {
	ctx := context.Background()
	require.Nil(t, s.PutTorrent(ctx, &Torrent{InfoHash: testInfoHash2, Status: TorrentStatusReviewed}))

	_, err := s.TorrentPeers(ctx, bittorrent.InfoHashFromString("99999999999999999999"))
	require.Equal(t, ErrResourceDoesNotExist, err)

	peers := []*Peer{
		{ID: "p1", UserID: 7, InfoHash: testInfoHash2, PeerID: bittorrent.PeerIDFromString("-TR0960-000000000001"), IP: "10.0.0.1", IPv4: "10.0.0.1", Port: 6881, Status: PeerStatusLeecher, LastAnnounceAt: testNow},
		{ID: "p2", UserID: 7, InfoHash: testInfoHash2, PeerID: bittorrent.PeerIDFromString("-TR0960-000000000002"), IP: "2001:db8::2", IPv6: "2001:db8::2", Port: 6882, Status: PeerStatusSeeder, LastAnnounceAt: testNow.Add(-time.Hour)},
		{ID: "p3", UserID: 8, InfoHash: testInfoHash2, PeerID: bittorrent.PeerIDFromString("-TR0960-000000000003"), IP: "10.0.0.3", IPv4: "10.0.0.3", Port: 6883, Status: PeerStatusSeeder, LastAnnounceAt: testNow},
	}
	for _, p := range peers {
		require.Nil(t, s.AddTorrentPeer(ctx, testInfoHash2, p.ID))
		require.Nil(t, s.CreatePeer(ctx, p))
	}

	// p4 is a ghost: stored but not referenced by the swarm.
	ghost := &Peer{ID: "p4", UserID: 8, InfoHash: testInfoHash2, Status: PeerStatusLeecher, LastAnnounceAt: testNow}
	require.Nil(t, s.CreatePeer(ctx, ghost))

	got, err := s.TorrentPeers(ctx, testInfoHash2)
	require.Nil(t, err)
	require.Len(t, got, 3)
	for i, p := range got {
		require.Equal(t, peers[i].ID, p.ID)
		require.Equal(t, peers[i].PeerID, p.PeerID)
		require.Equal(t, peers[i].IPv4, p.IPv4)
		require.Equal(t, peers[i].IPv6, p.IPv6)
		require.Equal(t, peers[i].Port, p.Port)
		require.True(t, peers[i].LastAnnounceAt.Equal(p.LastAnnounceAt))
	}

	seeding, leeching, err := s.UserPeerCounts(ctx, 8)
	require.Nil(t, err)
	require.Equal(t, int64(1), seeding)
	require.Equal(t, int64(1), leeching)

	n, err := s.DeleteOrphanPeers(ctx, testInfoHash2)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, ErrResourceDoesNotExist, s.DeletePeer(ctx, "p4"))

	seeding, leeching, err = s.UserPeerCounts(ctx, 8)
	require.Nil(t, err)
	require.Equal(t, int64(1), seeding)
	require.Equal(t, int64(0), leeching)

	updated := *peers[0]
	updated.Uploaded = 1000
	updated.Status = PeerStatusSeeder
	updated.LastAnnounceAt = testNow.Add(time.Minute)
	require.Nil(t, s.UpdatePeer(ctx, &updated))
	require.Equal(t, ErrResourceDoesNotExist, s.UpdatePeer(ctx, &Peer{ID: "nope"}))

	seeding, leeching, err = s.UserPeerCounts(ctx, 7)
	require.Nil(t, err)
	require.Equal(t, int64(2), seeding)
	require.Equal(t, int64(0), leeching)

	idle, err := s.PeersIdleSince(ctx, testNow.Add(-time.Minute))
	require.Nil(t, err)
	require.Len(t, idle, 1)
	require.Equal(t, "p2", idle[0].ID)

	require.Nil(t, s.RemoveTorrentPeer(ctx, testInfoHash2, "p1"))
	require.Nil(t, s.DeletePeer(ctx, "p1"))
	require.Equal(t, ErrResourceDoesNotExist, s.DeletePeer(ctx, "p1"))

	got, err = s.TorrentPeers(ctx, testInfoHash2)
	require.Nil(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "p2", got[0].ID)
	require.Equal(t, "p3", got[1].ID)

	for _, id := range []string{"p2", "p3"} {
		require.Nil(t, s.RemoveTorrentPeer(ctx, testInfoHash2, id))
		require.Nil(t, s.DeletePeer(ctx, id))
	}
}

func testCompletes(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.FindComplete(ctx, testInfoHash, 1)
	require.Equal(t, ErrResourceDoesNotExist, err)

	created, err := s.CreateComplete(ctx, &Complete{InfoHash: testInfoHash, UserID: 1, CreatedAt: testNow})
	require.Nil(t, err)
	require.False(t, created.Complete)
	require.True(t, created.CreatedAt.Equal(testNow))
	require.Nil(t, s.IncCompleteTraffic(ctx, testInfoHash, 1, 100, 200))
	require.Nil(t, s.IncCompleteTraffic(ctx, testInfoHash, 1, 1, 2))
	require.Nil(t, s.IncCompleteSeedTime(ctx, testInfoHash, 1, time.Hour))
	require.Nil(t, s.IncCompleteSeedTime(ctx, testInfoHash, 1, 30*time.Minute))
	require.Nil(t, s.MarkComplete(ctx, testInfoHash, 1, testNow))
	require.Nil(t, s.SetCompleteWarning(ctx, testInfoHash, 1, true))

	c, err := s.FindComplete(ctx, testInfoHash, 1)
	require.Nil(t, err)
	require.True(t, c.Complete)
	require.True(t, c.HnRWarning)
	require.Equal(t, uint64(101), c.TotalUploaded)
	require.Equal(t, uint64(202), c.TotalDownloaded)
	require.Equal(t, 90*time.Minute, c.TotalSeedTime)
	require.True(t, c.CompletedAt.Equal(testNow))

	// A second creation keeps the counters of the first record.
	again, err := s.CreateComplete(ctx, &Complete{InfoHash: testInfoHash, UserID: 1, CreatedAt: testNow.Add(time.Hour)})
	require.Nil(t, err)
	require.Equal(t, uint64(101), again.TotalUploaded)
	require.True(t, again.Complete)
	require.True(t, again.CreatedAt.Equal(testNow))

	_, err = s.FindComplete(ctx, testInfoHash, 2)
	require.Equal(t, ErrResourceDoesNotExist, err)

	// Concurrent first announces agree on a single record.
	var wg sync.WaitGroup
	results := make([]*Complete, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.CreateComplete(ctx, &Complete{
				InfoHash:  testInfoHash2,
				UserID:    1,
				CreatedAt: testNow.Add(time.Duration(i) * time.Second),
			})
			require.Nil(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range results {
		require.True(t, c.CreatedAt.Equal(results[0].CreatedAt))
	}
}

func testFinished(t *testing.T, s Store) {
	ctx := context.Background()

	n, err := s.CountFinished(ctx, testInfoHash, 1)
	require.Nil(t, err)
	require.Equal(t, 0, n)

	f := &Finished{ID: "f1", UserID: 1, InfoHash: testInfoHash, IP: "10.0.0.1", Port: 6881, UserAgent: "qBittorrent/4.5.0", CreatedAt: testNow}
	require.Nil(t, s.CreateFinished(ctx, f))

	n, err = s.CountFinished(ctx, testInfoHash, 1)
	require.Nil(t, err)
	require.Equal(t, 1, n)

	n, err = s.CountFinished(ctx, testInfoHash2, 1)
	require.Nil(t, err)
	require.Equal(t, 0, n)
}

func testSessions(t *testing.T, s Store) {
	unlock, err := s.LockSession(context.Background(), testInfoHash, 1)
	require.Nil(t, err)

	// A second lock on the same session times out while the first is held.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err = s.LockSession(ctx, testInfoHash, 1)
	cancel()
	require.NotNil(t, err)

	// Other sessions are independent.
	unlockOther, err := s.LockSession(context.Background(), testInfoHash, 2)
	require.Nil(t, err)
	unlockOther()

	unlock()

	var (
		wg      sync.WaitGroup
		m       sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.LockSession(context.Background(), testInfoHash, 1)
			if err != nil {
				return
			}

			m.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			m.Unlock()

			time.Sleep(time.Millisecond)

			m.Lock()
			holders--
			m.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}
