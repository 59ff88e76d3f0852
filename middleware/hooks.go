package middleware

import (
	"context"
	"time"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/storage"
	"github.com/pttracker/pttracker/swarm"
)

// Announce is the state of one announce as it moves through the pipeline.
//
// Every stage receives the Announce produced by the previous one and returns
// the Announce for the next; Request is never modified.
type Announce struct {
	Request *bittorrent.AnnounceRequest
	Now     time.Time

	// User is resolved from the passkey before the first stage runs and is
	// nil when no user owns the passkey.
	User    *storage.User
	Torrent *storage.Torrent

	// Complete is the Hit&Run record of the user on the torrent, set when
	// the policy applies.
	Complete *storage.Complete

	Session  *swarm.Session
	Response *bittorrent.AnnounceResponse
}

// LogFields renders the announce as a set of log fields.
func (a Announce) LogFields() log.Fields {
	f := a.Request.LogFields()
	if a.User != nil {
		f["userID"] = a.User.ID
	}
	if a.Session != nil {
		f["peer"] = a.Session.Peer.ID
	}
	return f
}

// Hook abstracts the concept of anything that needs to inspect or decide on
// an announce before it reaches the swarm.
type Hook interface {
	HandleAnnounce(context.Context, Announce) (Announce, error)
}

// HookFunc adapts an ordinary function to the Hook interface.
type HookFunc func(context.Context, Announce) (Announce, error)

// HandleAnnounce calls f(ctx, a).
func (f HookFunc) HandleAnnounce(ctx context.Context, a Announce) (Announce, error) {
	return f(ctx, a)
}

const passkeyLength = 32

func (l *Logic) checkPasskey(_ context.Context, a Announce) (Announce, error) {
	switch {
	case a.Request.Passkey == "":
		return a, bittorrent.NewFailure(bittorrent.CodeMissingPasskey)
	case len(a.Request.Passkey) != passkeyLength:
		return a, bittorrent.NewFailure(bittorrent.CodePasskeyLength)
	case a.User == nil:
		return a, bittorrent.NewFailure(bittorrent.CodeInvalidPasskey, l.cfg.SiteDomain)
	}
	return a, nil
}

func checkAccountStatus(u *storage.User) error {
	switch u.Status {
	case storage.UserStatusBanned:
		return bittorrent.NewFailure(bittorrent.CodeUserBanned)
	case storage.UserStatusInactive:
		return bittorrent.NewFailure(bittorrent.CodeUserInactive)
	case storage.UserStatusIdle:
		return bittorrent.NewFailure(bittorrent.CodeUserIdle)
	}
	return nil
}

func (l *Logic) checkAccount(_ context.Context, a Announce) (Announce, error) {
	return a, checkAccountStatus(a.User)
}

func (l *Logic) lookupTorrent(ctx context.Context, a Announce) (Announce, error) {
	t, err := l.store.Torrent(ctx, a.Request.InfoHash)
	if err == storage.ErrResourceDoesNotExist {
		return a, bittorrent.NewFailure(bittorrent.CodeTorrentNotFound)
	} else if err != nil {
		log.Error("middleware: failed to load torrent", a, log.Err(err))
		return a, bittorrent.NewFailure(bittorrent.CodeTorrentLookup)
	}

	if t.Status == storage.TorrentStatusNew && !a.Request.Seeding() {
		return a, bittorrent.NewFailure(bittorrent.CodeTorrentNotReview)
	}

	a.Torrent = t
	return a, nil
}

// refresh recomputes the derived fields of the user and of a torrent on a
// timed sale. It never fails the announce.
func (l *Logic) refresh(ctx context.Context, a Announce) (Announce, error) {
	u, err := l.store.RefreshUser(ctx, a.User.ID, a.Now)
	if err != nil {
		log.Error("middleware: failed to refresh user", a, log.Err(err))
	} else {
		a.User = u
	}

	if a.Torrent.OnTimedSale() {
		t, err := l.store.RefreshTorrent(ctx, a.Torrent.InfoHash, a.Now)
		if err != nil {
			log.Error("middleware: failed to refresh torrent", a, log.Err(err))
		} else {
			a.Torrent = t
		}
	}

	return a, nil
}

func (l *Logic) checkVIP(_ context.Context, a Announce) (Announce, error) {
	if !a.Request.Seeding() && a.Torrent.VIP && !a.User.IsVIP {
		return a, bittorrent.NewFailure(bittorrent.CodeVIPOnly)
	}
	return a, nil
}

// checkFinished rejects users that seed a torrent they never finished
// downloading, unless they uploaded it.
func (l *Logic) checkFinished(ctx context.Context, a Announce) (Announce, error) {
	req := a.Request
	if !l.cfg.SeedingInFinishedCheck || !req.Seeding() ||
		req.Event == bittorrent.Completed || req.Event == bittorrent.Stopped ||
		a.User.ID == a.Torrent.OwnerID {
		return a, nil
	}

	n, err := l.store.CountFinished(ctx, req.InfoHash, a.User.ID)
	if err != nil {
		log.Error("middleware: failed to count finished downloads", a, log.Err(err))
		return a, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	if n == 0 {
		return a, bittorrent.NewFailure(bittorrent.CodeSeedNotFinished)
	}
	return a, nil
}

// findComplete loads the Hit&Run record of the user, creating it on the
// first tracked announce. The record stays even if a later stage fails.
func (l *Logic) findComplete(ctx context.Context, a Announce) (Announce, error) {
	if !l.hnr.Applies(a.Torrent, a.User) {
		return a, nil
	}

	c, err := l.store.FindComplete(ctx, a.Torrent.InfoHash, a.User.ID)
	switch {
	case err == storage.ErrResourceDoesNotExist:
		c = &storage.Complete{
			InfoHash:  a.Torrent.InfoHash,
			UserID:    a.User.ID,
			Complete:  a.Request.Seeding(),
			CreatedAt: a.Now,
		}
		if c.Complete {
			c.CompletedAt = a.Now
		}
		if c, err = l.store.CreateComplete(ctx, c); err != nil {
			log.Error("middleware: failed to create Hit&Run record", a, log.Err(err))
			return a, bittorrent.NewFailure(bittorrent.CodeCreateComplete)
		}
	case err != nil:
		log.Error("middleware: failed to load Hit&Run record", a, log.Err(err))
		return a, bittorrent.NewFailure(bittorrent.CodeGetComplete)
	}

	a.Complete = c
	return a, nil
}

// reconcileGhosts deletes the peer records of the torrent that its swarm no
// longer references.
func (l *Logic) reconcileGhosts(ctx context.Context, a Announce) (Announce, error) {
	if a.Request.Event != bittorrent.Started {
		return a, nil
	}

	n, err := l.store.DeleteOrphanPeers(ctx, a.Torrent.InfoHash)
	if err != nil {
		log.Error("middleware: failed to delete ghost peers", a, log.Err(err))
	} else if n > 0 {
		log.Debug("middleware: deleted ghost peers", a, log.Fields{"ghosts": n})
	}
	return a, nil
}

func (l *Logic) checkHitAndRun(_ context.Context, a Announce) (Announce, error) {
	if a.Request.Event != bittorrent.Started || a.Request.Seeding() {
		return a, nil
	}
	if f := l.hnr.Blocks(a.User, a.Torrent, a.Complete); f != nil {
		return a, f
	}
	return a, nil
}

// checkRatio blocks users with a low share ratio from starting downloads once
// their account is older than the grace period.
func (l *Logic) checkRatio(_ context.Context, a Announce) (Announce, error) {
	req, u, dc := a.Request, a.User, l.cfg.DownloadCheck
	if req.Event != bittorrent.Started || req.Seeding() || u.IsVIP || u.IsOper {
		return a, nil
	}
	if u.Ratio == -1 || u.Ratio >= dc.Ratio {
		return a, nil
	}
	if u.CreatedAt.Add(dc.CheckAfterSignup).After(a.Now) {
		return a, nil
	}
	return a, bittorrent.NewFailure(bittorrent.CodeRatioTooLow, dc.Ratio)
}
