package hitandrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

var (
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg = Config{
		Enable:                      true,
		ForbiddenDownloadMinWarning: 2,
		SeedTime:                    72 * time.Hour,
		Ratio:                       1,
		WarningAfter:                time.Hour,
	}
)

func TestApplies(t *testing.T) {
	p := NewPolicy(cfg)
	tracked := &storage.Torrent{HnR: true}

	require.True(t, p.Applies(tracked, &storage.User{}))
	require.False(t, p.Applies(tracked, &storage.User{IsVIP: true}))
	require.False(t, p.Applies(&storage.Torrent{}, &storage.User{}))

	off := cfg
	off.Enable = false
	require.False(t, NewPolicy(off).Applies(tracked, &storage.User{}))
}

func TestSatisfied(t *testing.T) {
	p := NewPolicy(cfg)

	var table = []struct {
		name      string
		complete  storage.Complete
		satisfied bool
	}{
		{"nothing downloaded", storage.Complete{}, true},
		{"ratio reached", storage.Complete{TotalUploaded: 100, TotalDownloaded: 100}, true},
		{"seed time reached", storage.Complete{TotalDownloaded: 100, TotalSeedTime: 72 * time.Hour}, true},
		{"owing", storage.Complete{TotalUploaded: 10, TotalDownloaded: 100, TotalSeedTime: time.Hour}, false},
	}

	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.satisfied, p.Satisfied(&tt.complete))
		})
	}
}

func TestEvaluate(t *testing.T) {
	p := NewPolicy(cfg)
	owing := storage.Complete{TotalDownloaded: 100, Complete: true, CompletedAt: now.Add(-2 * time.Hour)}

	require.True(t, p.Evaluate(&owing, true, now), "stopping after the grace period earns a warning")
	require.False(t, p.Evaluate(&owing, false, now), "announcing while seeding keeps the flag")

	recent := owing
	recent.CompletedAt = now.Add(-time.Minute)
	require.False(t, p.Evaluate(&recent, true, now), "stopping within the grace period is free")

	incomplete := owing
	incomplete.Complete = false
	incomplete.HnRWarning = true
	require.True(t, p.Evaluate(&incomplete, true, now), "an incomplete download keeps its flag")

	warned := owing
	warned.HnRWarning = true
	warned.TotalUploaded = 100
	require.False(t, p.Evaluate(&warned, false, now), "satisfying the policy clears the warning")
}

func TestBlocks(t *testing.T) {
	p := NewPolicy(cfg)
	warned := &storage.User{HnRWarning: 2}
	tracked := &storage.Torrent{HnR: true}

	require.Nil(t, p.Blocks(&storage.User{HnRWarning: 1}, tracked, nil))
	require.Nil(t, p.Blocks(&storage.User{HnRWarning: 5, IsVIP: true}, tracked, nil))

	require.Equal(t, bittorrent.CodeHnRWarningBlock, p.Blocks(warned, &storage.Torrent{}, nil).Code)
	require.Equal(t, bittorrent.CodeHnRCompleteAbsent, p.Blocks(warned, tracked, nil).Code)
	require.Equal(t, bittorrent.CodeHnRWarningBlock, p.Blocks(warned, tracked, &storage.Complete{}).Code)
	require.Nil(t, p.Blocks(warned, tracked, &storage.Complete{HnRWarning: true}))
}

func TestValidateDefaults(t *testing.T) {
	got := Config{WarningAfter: -time.Second}.Validate()
	require.Equal(t, int64(defaultForbiddenDownloadMinWarning), got.ForbiddenDownloadMinWarning)
	require.Equal(t, defaultSeedTime, got.SeedTime)
	require.Equal(t, defaultRatio, got.Ratio)
	require.Equal(t, defaultWarningAfter, got.WarningAfter)
}
