// Package clientapproval implements a Hook that fails an Announce coming from
// a blacklisted BitTorrent client.
package clientapproval

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/middleware"
)

// Name is the name by which this middleware is registered.
const Name = "client approval"

func init() {
	middleware.RegisterDriver(Name, driver{})
}

var _ middleware.Driver = driver{}

type driver struct{}

func (d driver) NewHook(optionBytes []byte) (middleware.Hook, error) {
	var cfg Config
	err := yaml.Unmarshal(optionBytes, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid options for middleware %s", Name)
	}

	return NewHook(cfg)
}

// Config represents all the values required by this middleware to reject
// clients.
type Config struct {
	// Blacklist holds fragments of User-Agent headers, matched without
	// regard to case.
	Blacklist []string `yaml:"blacklist"`

	// ClientIDs holds client identifiers as found in peer IDs, e.g. "UT3550".
	ClientIDs []string `yaml:"client_ids"`

	// SiteDomain and BlacklistURL together locate the page listing the
	// blacklist; they are given in the failure reason.
	SiteDomain   string `yaml:"site_domain"`
	BlacklistURL string `yaml:"blacklist_url"`
}

type hook struct {
	agents    []string
	clientIDs map[bittorrent.ClientID]struct{}
	url       string
}

// NewHook returns an instance of the client approval middleware.
func NewHook(cfg Config) (middleware.Hook, error) {
	h := &hook{
		clientIDs: make(map[bittorrent.ClientID]struct{}),
		url:       cfg.SiteDomain + cfg.BlacklistURL,
	}

	for _, agent := range cfg.Blacklist {
		if agent == "" {
			return nil, errors.New("empty User-Agent in blacklist")
		}
		h.agents = append(h.agents, strings.ToLower(agent))
	}

	for _, cidString := range cfg.ClientIDs {
		if len(cidString) != 6 {
			return nil, errors.Errorf("client ID %q must be 6 bytes", cidString)
		}
		var cid bittorrent.ClientID
		copy(cid[:], cidString)
		h.clientIDs[cid] = struct{}{}
	}

	return h, nil
}

func (h *hook) HandleAnnounce(_ context.Context, a middleware.Announce) (middleware.Announce, error) {
	if _, found := h.clientIDs[a.Request.PeerID.ClientID()]; found {
		return a, bittorrent.NewFailure(bittorrent.CodeClientBlacklist, h.url)
	}

	agent := strings.ToLower(a.Request.UserAgent)
	for _, fragment := range h.agents {
		if strings.Contains(agent, fragment) {
			return a, bittorrent.NewFailure(bittorrent.CodeClientBlacklist, h.url)
		}
	}

	return a, nil
}
