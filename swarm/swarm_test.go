package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
	"github.com/pttracker/pttracker/storage/memory"
)

var (
	now      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	infoHash = bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	alice    = &storage.User{ID: 1, Passkey: "0123456789abcdef0123456789abcdef", Status: storage.UserStatusNormal}
	bob      = &storage.User{ID: 2, Passkey: "fedcba9876543210fedcba9876543210", Status: storage.UserStatusNormal}
	limits   = Limits{ActiveWindow: 40 * time.Minute, MaxLeech: 1, MaxSeed: 2}
)

func setup(t *testing.T) (storage.Store, *Manager) {
	s := memory.New()
	ctx := context.Background()
	require.Nil(t, s.PutUser(ctx, alice))
	require.Nil(t, s.PutUser(ctx, bob))
	require.Nil(t, s.PutTorrent(ctx, &storage.Torrent{InfoHash: infoHash, Status: storage.TorrentStatusReviewed}))
	return s, NewManager(s, limits)
}

func announce(peerID string, left uint64, event bittorrent.Event) *bittorrent.AnnounceRequest {
	return &bittorrent.AnnounceRequest{
		Event:        event,
		InfoHash:     infoHash,
		PeerID:       bittorrent.PeerIDFromString(peerID),
		Port:         6881,
		Left:         left,
		LeftProvided: true,
		IP:           "10.0.0.1",
		IPv4:         "10.0.0.1",
	}
}

func TestResolveCreatesPeer(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()

	sess, err := m.Resolve(ctx, announce("-qB4500-000000000001", 100, bittorrent.Started), alice, now)
	require.Nil(t, err)
	require.True(t, sess.New)
	require.Equal(t, storage.PeerStatusLeecher, sess.Peer.Status)
	require.True(t, sess.Peer.FinishedAt.IsZero())
	require.Len(t, sess.Own, 1)

	tr, err := s.Torrent(ctx, infoHash)
	require.Nil(t, err)
	require.Equal(t, []string{sess.Peer.ID}, tr.Peers)

	seeder, err := m.Resolve(ctx, announce("-qB4500-000000000002", 0, bittorrent.Started), bob, now)
	require.Nil(t, err)
	require.Equal(t, storage.PeerStatusSeeder, seeder.Peer.Status)
	require.True(t, seeder.Peer.FinishedAt.Equal(now))
	require.Len(t, seeder.Own, 1, "sessions of other users are not own sessions")
}

func TestResolveFindsExistingPeer(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()

	first, err := m.Resolve(ctx, announce("-qB4500-000000000001", 100, bittorrent.Started), alice, now)
	require.Nil(t, err)

	req := announce("-qB4500-000000000001", 100, bittorrent.None)
	second, err := m.Resolve(ctx, req, alice, now.Add(time.Minute))
	require.Nil(t, err)
	require.False(t, second.New)
	require.False(t, second.EndpointChanged)
	require.False(t, second.BecameSeeder)
	require.Equal(t, first.Peer.ID, second.Peer.ID)

	// A stale session is still found by its peer ID.
	third, err := m.Resolve(ctx, req, alice, now.Add(2*time.Hour))
	require.Nil(t, err)
	require.Equal(t, first.Peer.ID, third.Peer.ID)
}

func TestResolveEndpointChange(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()

	first, err := m.Resolve(ctx, announce("-qB4500-000000000001", 100, bittorrent.Started), alice, now)
	require.Nil(t, err)

	req := announce("-qB4500-000000000001", 100, bittorrent.None)
	req.IP, req.IPv4, req.IPv6, req.Port = "2001:db8::1", "", "2001:db8::1", 51413
	sess, err := m.Resolve(ctx, req, alice, now)
	require.Nil(t, err)
	require.True(t, sess.EndpointChanged)
	require.Equal(t, first.Peer.IPv4, sess.Baseline.IPv4)

	peers, err := s.TorrentPeers(ctx, infoHash)
	require.Nil(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "2001:db8::1", peers[0].IPv6)
	require.Equal(t, uint16(51413), peers[0].Port)

	// Port 0 never overwrites the stored endpoint.
	req = announce("-qB4500-000000000001", 100, bittorrent.None)
	req.Port = 0
	sess, err = m.Resolve(ctx, req, alice, now)
	require.Nil(t, err)
	require.False(t, sess.EndpointChanged)
}

func TestResolveDetectsSeederTransition(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()

	_, err := m.Resolve(ctx, announce("-qB4500-000000000001", 100, bittorrent.Started), alice, now)
	require.Nil(t, err)

	sess, err := m.Resolve(ctx, announce("-qB4500-000000000001", 0, bittorrent.None), alice, now)
	require.Nil(t, err)
	require.True(t, sess.BecameSeeder)

	sess, err = m.Resolve(ctx, announce("-qB4500-000000000001", 0, bittorrent.Completed), alice, now)
	require.Nil(t, err)
	require.False(t, sess.BecameSeeder, "the completed event has its own transition")
}

func TestEnforceLimits(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()

	req := announce("-qB4500-000000000001", 100, bittorrent.Started)
	sess, err := m.Resolve(ctx, req, alice, now)
	require.Nil(t, err)
	require.Nil(t, m.EnforceLimits(ctx, req, sess))

	req = announce("-qB4500-000000000002", 100, bittorrent.Started)
	sess, err = m.Resolve(ctx, req, alice, now)
	require.Nil(t, err)
	err = m.EnforceLimits(ctx, req, sess)
	require.NotNil(t, err)
	f := bittorrent.AsFailure(err)
	require.Equal(t, bittorrent.CodeMaxLeech, f.Code)
	require.Equal(t, "You can not open more than 1 downloading processes on the same torrent", f.Reason)

	peers, err := s.TorrentPeers(ctx, infoHash)
	require.Nil(t, err)
	require.Len(t, peers, 1, "the evicted peer must not persist")
	require.NotEqual(t, sess.Peer.ID, peers[0].ID)
	require.Equal(t, storage.ErrResourceDoesNotExist, s.DeletePeer(ctx, sess.Peer.ID))

	// Seeding sessions have their own limit.
	for i, id := range []string{"-qB4500-000000000003", "-qB4500-000000000004"} {
		req = announce(id, 0, bittorrent.Started)
		sess, err = m.Resolve(ctx, req, alice, now)
		require.Nil(t, err)
		require.Nil(t, m.EnforceLimits(ctx, req, sess), "seeder %d", i)
	}
	req = announce("-qB4500-000000000005", 0, bittorrent.Started)
	sess, err = m.Resolve(ctx, req, alice, now)
	require.Nil(t, err)
	require.Equal(t, bittorrent.CodeMaxSeed, bittorrent.AsFailure(m.EnforceLimits(ctx, req, sess)).Code)
}

func TestPruneAndRecount(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()

	stale, err := m.Resolve(ctx, announce("-qB4500-000000000001", 100, bittorrent.Started), alice, now.Add(-time.Hour))
	require.Nil(t, err)
	fresh, err := m.Resolve(ctx, announce("-qB4500-000000000002", 0, bittorrent.Started), bob, now)
	require.Nil(t, err)

	pruned, err := m.Prune(ctx, now.Add(-30*time.Minute))
	require.Nil(t, err)
	require.Equal(t, 1, pruned)

	tr, err := s.Torrent(ctx, infoHash)
	require.Nil(t, err)
	require.Equal(t, []string{fresh.Peer.ID}, tr.Peers)
	require.Equal(t, int64(0), tr.Leechers)
	require.Equal(t, storage.ErrResourceDoesNotExist, s.DeletePeer(ctx, stale.Peer.ID))

	require.Nil(t, m.Recount(ctx, infoHash, bob.ID))
	tr, err = s.Torrent(ctx, infoHash)
	require.Nil(t, err)
	require.Equal(t, int64(1), tr.Seeds)

	u, err := s.UserByPasskey(ctx, bob.Passkey)
	require.Nil(t, err)
	require.Equal(t, int64(1), u.Seeding)
	require.Equal(t, int64(0), u.Leeching)
}

func TestCollectorStops(t *testing.T) {
	s, m := setup(t)
	defer func() { s.Stop().Wait() }()

	c := NewCollector(m, Config{GarbageCollectionInterval: time.Millisecond, PeerLifetime: time.Hour})
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, c.Stop().Wait())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}.Validate()
	require.Equal(t, defaultGarbageCollectionInterval, cfg.GarbageCollectionInterval)
	require.Equal(t, defaultPeerLifetime, cfg.PeerLifetime)
}
