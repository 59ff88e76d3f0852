// Package accounting credits the traffic and the incentive scores earned by
// an announce, keeps the Hit&Run bookkeeping and records completed
// downloads.
package accounting

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/middleware/hitandrun"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/storage"
	"github.com/pttracker/pttracker/swarm"
)

// Config holds the configuration of the accounting engine.
type Config struct {
	Sales SalesConfig `yaml:"sales"`
	Score ScoreConfig `yaml:"score"`
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
func (cfg Config) Validate() Config {
	return Config{
		Sales: cfg.Sales.Validate(),
		Score: cfg.Score.Validate(),
	}
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"globalSale":     cfg.Sales.Global.Value,
		"globalSaleFrom": cfg.Sales.Global.StartAt,
		"vipRatio":       cfg.Sales.VIP,
		"uploaderRatio":  cfg.Sales.Uploader,
		"volumeScore":    cfg.Score.SeedUpDownload.Enable,
		"timedScore":     cfg.Score.SeedTimed.Enable,
		"seederAndLife":  cfg.Score.SeederAndLife.Enable,
	}
}

// Input is everything an announce contributes to the accounting.
type Input struct {
	Request *bittorrent.AnnounceRequest
	User    *storage.User
	Torrent *storage.Torrent
	Session *swarm.Session

	// Complete is the Hit&Run record of the user on the torrent, nil when
	// the policy does not apply.
	Complete *storage.Complete

	Now time.Time
}

// Result summarizes what an announce was credited with.
type Result struct {
	TrueUploaded   uint64
	TrueDownloaded uint64
	Uploaded       uint64
	Downloaded     uint64
	Sale           Ratio
	GlobalSale     bool
	Score          float64
	Completed      bool
}

// LogFields renders the result as a set of log fields.
func (r Result) LogFields() log.Fields {
	return log.Fields{
		"trueUploaded":   r.TrueUploaded,
		"trueDownloaded": r.TrueDownloaded,
		"uploaded":       r.Uploaded,
		"downloaded":     r.Downloaded,
		"sale":           r.Sale,
		"globalSale":     r.GlobalSale,
		"score":          r.Score,
		"completed":      r.Completed,
	}
}

// Engine applies announces to the counters of users, torrents and peers.
type Engine struct {
	store storage.Store
	swarm *swarm.Manager
	hnr   hitandrun.Policy
	cfg   Config
}

// NewEngine creates an Engine.
func NewEngine(store storage.Store, m *swarm.Manager, hnr hitandrun.Policy, provided Config) *Engine {
	return &Engine{
		store: store,
		swarm: m,
		hnr:   hnr,
		cfg:   provided.Validate(),
	}
}

func delta(reported, stored uint64) uint64 {
	if reported <= stored {
		return 0
	}
	return reported - stored
}

func speed(bytes uint64, elapsed time.Duration) uint64 {
	return uint64(math.Round(float64(bytes) / float64(elapsed.Milliseconds()) * 1000))
}

// Account credits the announce described by in and persists the current
// peer. Storage errors are logged and otherwise ignored; the only failure is
// an illegal completed event.
func (e *Engine) Account(ctx context.Context, in Input) (Result, error) {
	var res Result
	req, sess, p := in.Request, in.Session, in.Session.Peer
	base := sess.Baseline

	elapsed := in.Now.Sub(base.LastAnnounceAt)
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}

	var curru, currd uint64
	if !sess.New {
		curru = delta(req.Uploaded, base.Uploaded)
		currd = delta(req.Downloaded, base.Downloaded)

		if curru > 0 || currd > 0 {
			e.creditTraffic(ctx, in, curru, currd, &res)
		}

		p.CUSpeed, p.CDSpeed = 0, 0
		if curru > 0 {
			p.USpeed = speed(curru, elapsed)
			p.CUSpeed = p.USpeed
		}
		if currd > 0 {
			p.DSpeed = speed(currd, elapsed)
			p.CDSpeed = p.DSpeed
		}
	}

	p.Uploaded, p.Downloaded, p.Left = req.Uploaded, req.Downloaded, req.Left

	c := in.Complete
	if c != nil && (curru > 0 || currd > 0) {
		if err := e.store.IncCompleteTraffic(ctx, req.InfoHash, in.User.ID, curru, currd); err != nil {
			log.Error("accounting: failed to add Hit&Run traffic", req, log.Err(err))
		}
		c.TotalUploaded += curru
		c.TotalDownloaded += currd
	}

	if !sess.New && c != nil && c.Complete && req.Event != bittorrent.Completed {
		if err := e.store.IncCompleteSeedTime(ctx, req.InfoHash, in.User.ID, elapsed); err != nil {
			log.Error("accounting: failed to add Hit&Run seed time", req, log.Err(err))
		}
		c.TotalSeedTime += elapsed
	}

	if !sess.New && req.Seeding() && req.Event != bittorrent.Completed && req.Event != bittorrent.Started &&
		in.Torrent.Status == storage.TorrentStatusReviewed {
		if score := e.cfg.Score.timed(in.Torrent, in.User, elapsed, in.Now); score > 0 {
			e.award(ctx, in, "timed", score)
			res.Score += score
		}
	}

	if !sess.New {
		p.LastAnnounceAt = in.Now
	}

	switch {
	case req.Event == bittorrent.Completed:
		if base.Downloaded == 0 && req.Downloaded == 0 {
			e.persist(ctx, in)
			log.Debug("accounting: illegal completed event", req, in.Session)
			return res, bittorrent.NewFailure(bittorrent.CodeIllegalCompleted)
		}
		if sess.New || !base.Seeder() {
			e.complete(ctx, in)
			res.Completed = true
		}
		p.Status = storage.PeerStatusSeeder
	case sess.BecameSeeder:
		if base.Downloaded > 0 || req.Downloaded > 0 {
			e.complete(ctx, in)
			res.Completed = true
		}
		p.Status = storage.PeerStatusSeeder
		if p.FinishedAt.IsZero() {
			p.FinishedAt = in.Now
		}
	}

	if c != nil && (req.Event == bittorrent.Stopped || (!sess.New && req.Event != bittorrent.Completed)) {
		e.updateWarning(ctx, in, req.Event == bittorrent.Stopped)
	}

	e.persist(ctx, in)

	if err := e.swarm.Recount(ctx, req.InfoHash, in.User.ID); err != nil {
		log.Error("accounting: failed to recount seeds and leechers", req, log.Err(err))
	}

	recordTraffic(res)
	log.Debug("accounting: announce accounted", req, in.Session, res)
	return res, nil
}

func (e *Engine) creditTraffic(ctx context.Context, in Input, curru, currd uint64, res *Result) {
	ratio, global := SaleRatio(in.Torrent.SaleStatus, e.cfg.Sales.Global, in.Now)

	up := float64(curru) * ratio.Up
	down := float64(currd) * ratio.Down
	if in.User.IsVIP {
		up *= e.cfg.Sales.VIP.Up
		down *= e.cfg.Sales.VIP.Down
	}
	if in.User.ID == in.Torrent.OwnerID {
		up *= e.cfg.Sales.Uploader.Up
		down *= e.cfg.Sales.Uploader.Down
	}

	t := storage.UserTraffic{
		Uploaded:       uint64(math.Round(up)),
		Downloaded:     uint64(math.Round(down)),
		TrueUploaded:   curru,
		TrueDownloaded: currd,
		Examination:    in.User.Examination.Active(in.Now),
	}
	if err := e.store.IncUserTraffic(ctx, in.User.ID, t); err != nil {
		log.Error("accounting: failed to credit traffic", in.Request, log.Err(err))
	}

	res.TrueUploaded, res.TrueDownloaded = curru, currd
	res.Uploaded, res.Downloaded = t.Uploaded, t.Downloaded
	res.Sale, res.GlobalSale = ratio, global

	if score := e.cfg.Score.volume(in.Torrent, in.User, curru, currd, in.Now); score > 0 {
		e.award(ctx, in, "volume", score)
		res.Score += score
	}
}

func (e *Engine) award(ctx context.Context, in Input, kind string, score float64) {
	if err := e.store.IncUserScore(ctx, in.User.ID, score); err != nil {
		log.Error("accounting: failed to credit score", in.Request, log.Fields{"award": kind}, log.Err(err))
		return
	}
	PromScoreAwarded.WithLabelValues(kind).Add(score)
}

// complete records a finished download.
func (e *Engine) complete(ctx context.Context, in Input) {
	req := in.Request
	f := &storage.Finished{
		ID:        uuid.New().String(),
		UserID:    in.User.ID,
		InfoHash:  req.InfoHash,
		IP:        req.IP,
		Port:      req.Port,
		UserAgent: req.UserAgent,
		CreatedAt: in.Now,
	}
	if err := e.store.CreateFinished(ctx, f); err != nil {
		log.Error("accounting: failed to record finished download", req, log.Err(err))
	}

	in.Session.Peer.FinishedAt = in.Now

	if err := e.store.IncTorrentFinished(ctx, req.InfoHash); err != nil {
		log.Error("accounting: failed to count torrent completion", req, log.Err(err))
	}
	if err := e.store.IncUserFinished(ctx, in.User.ID); err != nil {
		log.Error("accounting: failed to count user completion", req, log.Err(err))
	}

	if c := in.Complete; c != nil {
		if err := e.store.MarkComplete(ctx, req.InfoHash, in.User.ID, in.Now); err != nil {
			log.Error("accounting: failed to mark Hit&Run record complete", req, log.Err(err))
		}
		c.Complete = true
		c.CompletedAt = in.Now
	}

	PromCompletions.Inc()
}

// updateWarning applies the Hit&Run verdict to the record and the user.
func (e *Engine) updateWarning(ctx context.Context, in Input, stopped bool) {
	c := in.Complete
	warning := e.hnr.Evaluate(c, stopped, in.Now)
	if warning == c.HnRWarning {
		return
	}

	if err := e.store.SetCompleteWarning(ctx, c.InfoHash, c.UserID, warning); err != nil {
		log.Error("accounting: failed to set Hit&Run warning", in.Request, log.Err(err))
		return
	}
	c.HnRWarning = warning

	d := int64(1)
	if !warning {
		d = -1
	}
	if err := e.store.IncUserHnRWarning(ctx, in.User.ID, d); err != nil {
		log.Error("accounting: failed to count Hit&Run warning", in.Request, log.Err(err))
	}
}

// persist writes the current peer, or removes it on a stopped event.
func (e *Engine) persist(ctx context.Context, in Input) {
	p := in.Session.Peer
	if in.Request.Event == bittorrent.Stopped {
		if err := e.swarm.Remove(ctx, p); err != nil {
			log.Error("accounting: failed to remove stopped peer", in.Request, log.Err(err))
		}
		delete(in.Session.Own, p.PeerID)
		return
	}

	if err := e.store.UpdatePeer(ctx, p); err != nil {
		log.Error("accounting: failed to save peer", in.Request, log.Err(err))
	}
}
