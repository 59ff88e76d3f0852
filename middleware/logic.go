package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/pttracker/pttracker/accounting"
	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/frontend"
	"github.com/pttracker/pttracker/middleware/hitandrun"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/stop"
	"github.com/pttracker/pttracker/storage"
	"github.com/pttracker/pttracker/swarm"
)

// Default config constants.
const (
	defaultAnnounceInterval = 30 * time.Minute
	defaultAnnounceIdleTime = 10 * time.Minute
	defaultNumWant          = 50
	defaultMaxNumWant       = 200
	defaultMaxLeech         = 1
	defaultMaxSeed          = 3
)

// DownloadCheck configures the ratio gate for starting downloads.
type DownloadCheck struct {
	// Ratio is the minimum share ratio; zero disables the gate.
	Ratio float64 `yaml:"ratio"`

	// CheckAfterSignup is the grace period of new accounts.
	CheckAfterSignup time.Duration `yaml:"check_after_signup"`
}

// Config holds the configuration of the announce pipeline.
type Config struct {
	AnnounceInterval time.Duration `yaml:"announce_interval"`

	// AnnounceIdleTime is how long past AnnounceInterval a peer is still
	// considered active.
	AnnounceIdleTime time.Duration `yaml:"announce_idle_time"`

	DefaultNumWant uint32 `yaml:"default_numwant"`
	MaxNumWant     uint32 `yaml:"max_numwant"`

	// SiteDomain is shown to clients whose passkey is unknown.
	SiteDomain string `yaml:"site_domain"`

	IncludeOwnPeers        bool `yaml:"peers_send_list_include_own_seed"`
	SeedingInFinishedCheck bool `yaml:"seeding_in_finished_check"`

	MaxLeechPerUserPerTorrent int `yaml:"max_leech_per_user_per_torrent"`
	MaxSeedPerUserPerTorrent  int `yaml:"max_seed_per_user_per_torrent"`

	DownloadCheck DownloadCheck `yaml:"download_check"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"announceInterval":       cfg.AnnounceInterval,
		"announceIdleTime":       cfg.AnnounceIdleTime,
		"defaultNumWant":         cfg.DefaultNumWant,
		"maxNumWant":             cfg.MaxNumWant,
		"siteDomain":             cfg.SiteDomain,
		"includeOwnPeers":        cfg.IncludeOwnPeers,
		"seedingInFinishedCheck": cfg.SeedingInFinishedCheck,
		"maxLeech":               cfg.MaxLeechPerUserPerTorrent,
		"maxSeed":                cfg.MaxSeedPerUserPerTorrent,
		"minRatio":               cfg.DownloadCheck.Ratio,
		"ratioCheckAfterSignup":  cfg.DownloadCheck.CheckAfterSignup,
	}
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.AnnounceInterval <= 0 {
		validcfg.AnnounceInterval = defaultAnnounceInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "middleware.AnnounceInterval",
			"provided": cfg.AnnounceInterval,
			"default":  validcfg.AnnounceInterval,
		})
	}

	if cfg.AnnounceIdleTime < 0 {
		validcfg.AnnounceIdleTime = defaultAnnounceIdleTime
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "middleware.AnnounceIdleTime",
			"provided": cfg.AnnounceIdleTime,
			"default":  validcfg.AnnounceIdleTime,
		})
	}

	if cfg.DefaultNumWant == 0 {
		validcfg.DefaultNumWant = defaultNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "middleware.DefaultNumWant",
			"provided": cfg.DefaultNumWant,
			"default":  validcfg.DefaultNumWant,
		})
	}

	if cfg.MaxNumWant < validcfg.DefaultNumWant {
		validcfg.MaxNumWant = defaultMaxNumWant
		if validcfg.MaxNumWant < validcfg.DefaultNumWant {
			validcfg.MaxNumWant = validcfg.DefaultNumWant
		}
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "middleware.MaxNumWant",
			"provided": cfg.MaxNumWant,
			"default":  validcfg.MaxNumWant,
		})
	}

	if cfg.MaxLeechPerUserPerTorrent <= 0 {
		validcfg.MaxLeechPerUserPerTorrent = defaultMaxLeech
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "middleware.MaxLeechPerUserPerTorrent",
			"provided": cfg.MaxLeechPerUserPerTorrent,
			"default":  validcfg.MaxLeechPerUserPerTorrent,
		})
	}

	if cfg.MaxSeedPerUserPerTorrent <= 0 {
		validcfg.MaxSeedPerUserPerTorrent = defaultMaxSeed
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "middleware.MaxSeedPerUserPerTorrent",
			"provided": cfg.MaxSeedPerUserPerTorrent,
			"default":  validcfg.MaxSeedPerUserPerTorrent,
		})
	}

	return validcfg
}

// ActiveWindow is how long after its last announce a peer counts as active.
func (cfg Config) ActiveWindow() time.Duration {
	return cfg.AnnounceInterval + cfg.AnnounceIdleTime
}

// Limits returns the session limits of the swarm manager.
func (cfg Config) Limits() swarm.Limits {
	return swarm.Limits{
		ActiveWindow: cfg.ActiveWindow(),
		MaxLeech:     cfg.MaxLeechPerUserPerTorrent,
		MaxSeed:      cfg.MaxSeedPerUserPerTorrent,
	}
}

var _ frontend.TrackerLogic = &Logic{}

// NewLogic creates a new instance of a TrackerLogic.
//
// The hooks run after the account checks and before the torrent lookup; they
// can be replaced later with SetHooks.
func NewLogic(provided Config, store storage.Store, m *swarm.Manager, engine *accounting.Engine, hnr hitandrun.Policy, hooks []Hook) *Logic {
	l := &Logic{
		cfg:    provided.Validate(),
		store:  store,
		swarm:  m,
		engine: engine,
		hnr:    hnr,
		hooks:  hooks,
		now:    time.Now,
	}
	return l
}

// Logic is an implementation of the TrackerLogic that runs every announce
// through a fixed chain of stages.
type Logic struct {
	cfg    Config
	store  storage.Store
	swarm  *swarm.Manager
	engine *accounting.Engine
	hnr    hitandrun.Policy
	now    func() time.Time

	hooksM sync.RWMutex
	hooks  []Hook
}

// SetHooks replaces the configurable hooks and stops the replaced ones.
func (l *Logic) SetHooks(hooks []Hook) stop.Result {
	l.hooksM.Lock()
	old := l.hooks
	l.hooks = hooks
	l.hooksM.Unlock()

	return stopHooks(old)
}

// validators returns the ordered checks that run before the swarm is touched.
func (l *Logic) validators() []Hook {
	l.hooksM.RLock()
	hooks := l.hooks
	l.hooksM.RUnlock()

	chain := make([]Hook, 0, len(hooks)+10)
	chain = append(chain, HookFunc(l.checkPasskey), HookFunc(l.checkAccount))
	chain = append(chain, hooks...)
	return append(chain,
		HookFunc(l.lookupTorrent),
		HookFunc(l.refresh),
		HookFunc(l.checkVIP),
		HookFunc(l.checkFinished),
		HookFunc(l.findComplete),
		HookFunc(l.reconcileGhosts),
		HookFunc(l.checkHitAndRun),
		HookFunc(l.checkRatio),
	)
}

func (l *Logic) lookupUser(ctx context.Context, passkey string) (*storage.User, error) {
	if len(passkey) != passkeyLength {
		return nil, nil
	}

	u, err := l.store.UserByPasskey(ctx, passkey)
	if err == storage.ErrResourceDoesNotExist {
		return nil, nil
	}
	return u, err
}

// HandleAnnounce generates a response for an Announce.
//
// Any error returned is a *bittorrent.Failure.
func (l *Logic) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error) {
	a, err := l.announce(ctx, Announce{Request: req, Now: l.now()})
	recordAnnounce(err)
	if err != nil {
		log.Debug("middleware: announce failed", a, log.Err(err))
		return nil, err
	}

	log.Debug("generated announce response", a.Response)
	return a.Response, nil
}

func (l *Logic) announce(ctx context.Context, a Announce) (Announce, error) {
	var err error
	a.User, err = l.lookupUser(ctx, a.Request.Passkey)
	if err != nil {
		log.Error("middleware: failed to look up passkey", a, log.Err(err))
		return a, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}

	for _, h := range l.validators() {
		if a, err = h.HandleAnnounce(ctx, a); err != nil {
			return a, asFailure(a, err)
		}
	}

	unlock, err := l.store.LockSession(ctx, a.Request.InfoHash, a.User.ID)
	if err != nil {
		log.Error("middleware: failed to lock session", a, log.Err(err))
		return a, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	defer unlock()

	for _, h := range []HookFunc{l.resolvePeer, l.enforceLimits, l.account, l.respond} {
		if a, err = h(ctx, a); err != nil {
			return a, asFailure(a, err)
		}
	}
	return a, nil
}

// asFailure maps anything that is not a Failure to the generic one.
func asFailure(a Announce, err error) error {
	if f, ok := err.(*bittorrent.Failure); ok {
		return f
	}
	log.Error("middleware: announce stage failed", a, log.Err(err))
	return bittorrent.NewFailure(bittorrent.CodeGeneric)
}

func (l *Logic) resolvePeer(ctx context.Context, a Announce) (Announce, error) {
	sess, err := l.swarm.Resolve(ctx, a.Request, a.User, a.Now)
	if err != nil {
		return a, err
	}
	a.Session = sess
	return a, nil
}

func (l *Logic) enforceLimits(ctx context.Context, a Announce) (Announce, error) {
	if a.Request.Event == bittorrent.Stopped {
		return a, nil
	}
	return a, l.swarm.EnforceLimits(ctx, a.Request, a.Session)
}

func (l *Logic) account(ctx context.Context, a Announce) (Announce, error) {
	_, err := l.engine.Account(ctx, accounting.Input{
		Request:  a.Request,
		User:     a.User,
		Torrent:  a.Torrent,
		Session:  a.Session,
		Complete: a.Complete,
		Now:      a.Now,
	})
	return a, err
}

// HandleScrape generates a response for a Scrape. Unknown infohashes are
// left out of the response.
func (l *Logic) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error) {
	switch {
	case req.Passkey == "":
		return nil, bittorrent.NewFailure(bittorrent.CodeMissingPasskey)
	case len(req.Passkey) != passkeyLength:
		return nil, bittorrent.NewFailure(bittorrent.CodePasskeyLength)
	}

	u, err := l.lookupUser(ctx, req.Passkey)
	if err != nil {
		log.Error("middleware: failed to look up passkey", req, log.Err(err))
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	if u == nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeInvalidPasskey, l.cfg.SiteDomain)
	}
	if err := checkAccountStatus(u); err != nil {
		return nil, err
	}

	resp := &bittorrent.ScrapeResponse{Files: make([]bittorrent.Scrape, 0, len(req.InfoHashes))}
	for _, ih := range req.InfoHashes {
		t, err := l.store.Torrent(ctx, ih)
		if err != nil {
			if err != storage.ErrResourceDoesNotExist {
				log.Error("middleware: failed to load torrent for scrape", log.Fields{"infoHash": ih}, log.Err(err))
			}
			continue
		}

		resp.Files = append(resp.Files, bittorrent.Scrape{
			InfoHash:   ih,
			Snatches:   uint32(t.Finished),
			Complete:   uint32(t.Seeds),
			Incomplete: uint32(t.Leechers),
		})
	}

	log.Debug("generated scrape response", resp)
	return resp, nil
}

func stopHooks(hooks []Hook) stop.Result {
	stopGroup := stop.NewGroup()
	for _, hook := range hooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}
	return stopGroup.Stop()
}

// Stop stops the Logic.
//
// This stops any hooks that implement stop.Stopper.
func (l *Logic) Stop() stop.Result {
	l.hooksM.RLock()
	hooks := l.hooks
	l.hooksM.RUnlock()

	return stopHooks(hooks)
}
