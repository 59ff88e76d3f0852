package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/middleware"
	"github.com/pttracker/pttracker/storage"
	"github.com/pttracker/pttracker/storage/memory"
)

func TestParseExampleConfig(t *testing.T) {
	cfgFile, err := ParseConfigFile("../../dist/example_config.yaml")
	require.Nil(t, err)
	cfg := cfgFile.Tracker

	require.Equal(t, "0.0.0.0:6969", cfg.HTTPConfig.Addr)
	require.Equal(t, memory.Name, cfg.Storage.Name)
	require.Equal(t, 30*time.Minute, cfg.Announce.AnnounceInterval)
	require.Equal(t, 0.5, cfg.Announce.DownloadCheck.Ratio)
	require.Equal(t, int64(3), cfg.HitAndRun.ForbiddenDownloadMinWarning)
	require.Equal(t, "U2/FREE", cfg.Sales.Global.Value)
	require.Equal(t, 1.5, cfg.Sales.VIP.Up)
	require.Equal(t, time.Hour, cfg.Score.SeedTimed.AdditionTime)
	require.Equal(t, []string{"client approval"}, cfg.PreHookNames())

	hooks, err := middleware.NewHooks(cfg.HookConfigs())
	require.Nil(t, err)
	require.Len(t, hooks, 1)

	_, err = hooks[0].HandleAnnounce(context.Background(), middleware.Announce{
		Request: &bittorrent.AnnounceRequest{UserAgent: "Thunder/1.0"},
	})
	require.Equal(t, bittorrent.CodeClientBlacklist, bittorrent.AsFailure(err).Code)
	require.Contains(t, bittorrent.AsFailure(err).Reason, "https://tracker.example/client-blacklist")
}

func TestHookConfigsSiteDomain(t *testing.T) {
	var cfg Config
	cfg.Announce.SiteDomain = "https://tracker.example"
	cfg.PreHooks = []middleware.HookConfig{
		{Name: "client approval"},
		{Name: "client approval", Options: map[string]interface{}{"site_domain": "https://mirror.example"}},
	}

	hooks := cfg.HookConfigs()
	require.Equal(t, "https://tracker.example", hooks[0].Options["site_domain"])
	require.Equal(t, "https://mirror.example", hooks[1].Options["site_domain"])
	require.Nil(t, cfg.PreHooks[0].Options, "the parsed config is left untouched")
}

func TestParseConfigFileErrors(t *testing.T) {
	_, err := ParseConfigFile("")
	require.NotNil(t, err)

	_, err = ParseConfigFile("does-not-exist.yaml")
	require.NotNil(t, err)
}

func TestSeedFile(t *testing.T) {
	sf, err := parseSeedFile("../../dist/example_seed.yaml")
	require.Nil(t, err)

	s := memory.New()
	defer func() { s.Stop().Wait() }()
	ctx := context.Background()
	now := time.Now()
	require.Nil(t, sf.load(ctx, s, now))

	u, err := s.UserByPasskey(ctx, "00000000000000000000000000000002")
	require.Nil(t, err)
	require.Equal(t, uint64(2), u.ID)
	require.True(t, u.IsVIP)
	require.Equal(t, storage.UserStatusNormal, u.Status)

	ih, err := bittorrent.InfoHashFromHexString("0123456789abcdef0123456789abcdef01234567")
	require.Nil(t, err)
	tr, err := s.Torrent(ctx, ih)
	require.Nil(t, err)
	require.Equal(t, storage.TorrentStatusReviewed, tr.Status)
	require.Equal(t, "U2/D1", tr.SaleStatus)
	require.Equal(t, uint64(1), tr.OwnerID)
}
