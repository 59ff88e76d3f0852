package random

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
)

func TestIntn(t *testing.T) {
	rand.Seed(time.Now().UnixNano())
	s0, s1 := rand.Uint64(), rand.Uint64()
	var k int
	for i := 0; i < 10000; i++ {
		k, s0, s1 = Intn(s0, s1, 10)
		require.True(t, k >= 0, "Intn() must be >= 0")
		require.True(t, k < 10, "Intn(k) must be < k")
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	s := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	Shuffle(42, 1337, len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })

	sorted := append([]int(nil), s...)
	sort.Ints(sorted)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sorted)

	require.NotPanics(t, func() { Shuffle(1, 2, 0, func(i, j int) {}) })
}

func TestDeriveEntropyFromRequest(t *testing.T) {
	req := &bittorrent.AnnounceRequest{
		InfoHash: bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa"),
		PeerID:   bittorrent.PeerIDFromString("-TR0960-6ep6svaa61r4"),
	}

	a0, a1 := DeriveEntropyFromRequest(req, 7)
	b0, b1 := DeriveEntropyFromRequest(req, 7)
	require.Equal(t, a0, b0)
	require.Equal(t, a1, b1)

	c0, _ := DeriveEntropyFromRequest(req, 8)
	require.NotEqual(t, a0, c0)

	z0, z1 := DeriveEntropyFromRequest(&bittorrent.AnnounceRequest{}, 0)
	require.False(t, z0 == 0 && z1 == 0)
}

func BenchmarkAdvanceXORShift128Plus(b *testing.B) {
	s0, s1 := rand.Uint64(), rand.Uint64()
	var v uint64
	for i := 0; i < b.N; i++ {
		v, s0, s1 = GenerateAndAdvance(s0, s1)
	}
	_, _, _ = v, s0, s1
}

func BenchmarkIntn(b *testing.B) {
	s0, s1 := rand.Uint64(), rand.Uint64()
	var v int
	for i := 0; i < b.N; i++ {
		v, s0, s1 = Intn(s0, s1, 1000)
	}
	_, _, _ = v, s0, s1
}
