// Package hitandrun implements the Hit&Run policy of a private tracker: users
// that download a tracked torrent must keep seeding it until they reach a
// minimum seed time or share ratio, or they collect a warning.
package hitandrun

import (
	"time"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/storage"
)

// Default config constants.
const (
	defaultForbiddenDownloadMinWarning = 3
	defaultSeedTime                    = 72 * time.Hour
	defaultRatio                       = 1.0
	defaultWarningAfter                = 24 * time.Hour
)

// Config represents all the values required by the Hit&Run policy.
type Config struct {
	Enable bool `yaml:"enable"`

	// ForbiddenDownloadMinWarning is the number of warnings from which a
	// user can no longer start downloads.
	ForbiddenDownloadMinWarning int64 `yaml:"forbidden_download_min_warning"`

	// SeedTime and Ratio are the alternative conditions that satisfy the
	// policy for one torrent.
	SeedTime time.Duration `yaml:"seed_time"`
	Ratio    float64       `yaml:"ratio"`

	// WarningAfter is how long after completing a download a user may stop
	// seeding before the stop earns a warning.
	WarningAfter time.Duration `yaml:"warning_after"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"enable":                      cfg.Enable,
		"forbiddenDownloadMinWarning": cfg.ForbiddenDownloadMinWarning,
		"seedTime":                    cfg.SeedTime,
		"ratio":                       cfg.Ratio,
		"warningAfter":                cfg.WarningAfter,
	}
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.ForbiddenDownloadMinWarning <= 0 {
		validcfg.ForbiddenDownloadMinWarning = defaultForbiddenDownloadMinWarning
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "hitandrun.ForbiddenDownloadMinWarning",
			"provided": cfg.ForbiddenDownloadMinWarning,
			"default":  validcfg.ForbiddenDownloadMinWarning,
		})
	}

	if cfg.SeedTime <= 0 {
		validcfg.SeedTime = defaultSeedTime
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "hitandrun.SeedTime",
			"provided": cfg.SeedTime,
			"default":  validcfg.SeedTime,
		})
	}

	if cfg.Ratio <= 0 {
		validcfg.Ratio = defaultRatio
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "hitandrun.Ratio",
			"provided": cfg.Ratio,
			"default":  validcfg.Ratio,
		})
	}

	if cfg.WarningAfter < 0 {
		validcfg.WarningAfter = defaultWarningAfter
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "hitandrun.WarningAfter",
			"provided": cfg.WarningAfter,
			"default":  validcfg.WarningAfter,
		})
	}

	return validcfg
}

// Policy evaluates the Hit&Run rules for a config.
type Policy struct {
	cfg Config
}

// NewPolicy creates a Policy from a validated copy of provided.
func NewPolicy(provided Config) Policy {
	return Policy{cfg: provided.Validate()}
}

// Enabled reports whether Hit&Run tracking is switched on at all.
func (p Policy) Enabled() bool {
	return p.cfg.Enable
}

// Applies reports whether announces of u on t are tracked.
func (p Policy) Applies(t *storage.Torrent, u *storage.User) bool {
	return p.cfg.Enable && t.HnR && !u.IsVIP
}

// Satisfied reports whether the user did enough for the torrent.
// Nothing downloaded means nothing is owed.
func (p Policy) Satisfied(c *storage.Complete) bool {
	if c.TotalSeedTime >= p.cfg.SeedTime {
		return true
	}
	if c.TotalDownloaded == 0 {
		return true
	}
	return float64(c.TotalUploaded)/float64(c.TotalDownloaded) >= p.cfg.Ratio
}

// Evaluate returns the warning flag the Complete record should carry after an
// announce. Stopping a completed download before the policy is satisfied
// earns a warning once WarningAfter has passed since completion; satisfying
// the policy clears it.
func (p Policy) Evaluate(c *storage.Complete, stopped bool, now time.Time) bool {
	if p.Satisfied(c) {
		return false
	}
	if !c.Complete {
		return c.HnRWarning
	}
	if stopped && !now.Before(c.CompletedAt.Add(p.cfg.WarningAfter)) {
		return true
	}
	return c.HnRWarning
}

// Blocks decides whether a user with too many warnings may start a download.
// A user may continue a tracked torrent for which they already carry a
// warning, but not start any other.
//
// It returns nil when the announce may proceed.
func (p Policy) Blocks(u *storage.User, t *storage.Torrent, c *storage.Complete) *bittorrent.Failure {
	if !p.cfg.Enable || u.IsVIP || u.HnRWarning < p.cfg.ForbiddenDownloadMinWarning {
		return nil
	}

	switch {
	case !t.HnR:
		return bittorrent.NewFailure(bittorrent.CodeHnRWarningBlock)
	case c == nil:
		return bittorrent.NewFailure(bittorrent.CodeHnRCompleteAbsent)
	case !c.HnRWarning:
		return bittorrent.NewFailure(bittorrent.CodeHnRWarningBlock)
	}
	return nil
}
