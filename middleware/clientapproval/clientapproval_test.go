package clientapproval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/middleware"
)

var cases = []struct {
	cfg       Config
	peerID    string
	userAgent string
	approved  bool
}{
	// User-Agent is not blacklisted
	{
		Config{Blacklist: []string{"Thunder"}},
		"-qB4500-000000000001",
		"qBittorrent/4.5.0",
		true,
	},
	// User-Agent is blacklisted, whatever the case
	{
		Config{Blacklist: []string{"Transmission/2.93"}},
		"-TR2930-000000000001",
		"transmission/2.93 (linux)",
		false,
	},
	// Client ID is blacklisted
	{
		Config{ClientIDs: []string{"XL0012"}},
		"-XL0012-000000000001",
		"Mozilla/4.0",
		false,
	},
	// Client ID is not blacklisted
	{
		Config{ClientIDs: []string{"XL0012"}},
		"-qB4500-000000000001",
		"qBittorrent/4.5.0",
		true,
	},
}

func TestHandleAnnounce(t *testing.T) {
	for _, tt := range cases {
		t.Run(tt.userAgent, func(t *testing.T) {
			tt.cfg.SiteDomain = "https://tracker.example"
			tt.cfg.BlacklistURL = "/client-blacklist"
			h, err := NewHook(tt.cfg)
			require.Nil(t, err)

			a := middleware.Announce{Request: &bittorrent.AnnounceRequest{
				PeerID:    bittorrent.PeerIDFromString(tt.peerID),
				UserAgent: tt.userAgent,
			}}
			_, err = h.HandleAnnounce(context.Background(), a)

			if tt.approved {
				require.Nil(t, err)
				return
			}
			f, ok := err.(*bittorrent.Failure)
			require.True(t, ok)
			require.Equal(t, bittorrent.CodeClientBlacklist, f.Code)
			require.Equal(t, "your client is not allowed, here is the blacklist: https://tracker.example/client-blacklist", f.Reason)
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewHook(Config{ClientIDs: []string{"short"}})
	require.NotNil(t, err)

	_, err = NewHook(Config{Blacklist: []string{""}})
	require.NotNil(t, err)
}

func TestRegisteredDriver(t *testing.T) {
	h, err := middleware.NewHook(middleware.HookConfig{
		Name:    Name,
		Options: map[string]interface{}{"blacklist": []string{"Thunder"}},
	})
	require.Nil(t, err)
	require.NotNil(t, h)
	require.Contains(t, middleware.Drivers(), Name)
}
