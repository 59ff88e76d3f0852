package accounting

import (
	"math"
	"time"

	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/storage"
)

// Default config constants.
const (
	defaultAdditionSize = 1 << 30
	defaultPerlSize     = 1 << 30
	defaultAdditionTime = time.Hour
)

// SeedUpDownload configures the score awarded for transferred bytes.
type SeedUpDownload struct {
	Enable         bool `yaml:"enable"`
	UploadEnable   bool `yaml:"upload_enable"`
	DownloadEnable bool `yaml:"download_enable"`

	// Torrents larger than AdditionSize earn sqrt(size/AdditionSize) per
	// unit. A unit is PerlSize bytes.
	AdditionSize uint64 `yaml:"addition_size"`
	PerlSize     uint64 `yaml:"perl_size"`

	UploadValue   float64 `yaml:"upload_value"`
	DownloadValue float64 `yaml:"download_value"`
	UploaderRatio float64 `yaml:"uploader_ratio"`
	VIPRatio      float64 `yaml:"vip_ratio"`
}

// SeedTimed configures the score awarded for time spent seeding.
type SeedTimed struct {
	Enable       bool          `yaml:"enable"`
	AdditionTime time.Duration `yaml:"addition_time"`
	TimedValue   float64       `yaml:"timed_value"`
	VIPRatio     float64       `yaml:"vip_ratio"`
}

// SeederAndLife configures the bonus for scarcely seeded and old torrents.
type SeederAndLife struct {
	Enable            bool    `yaml:"enable"`
	SeederCount       int64   `yaml:"seeder_count"`
	SeederBasicRatio  float64 `yaml:"seeder_basic_ratio"`
	SeederCoefficient float64 `yaml:"seeder_coefficient"`

	LifeBasicRatio       float64 `yaml:"life_basic_ratio"`
	LifeCoefficientOfDay float64 `yaml:"life_coefficient_of_day"`
	LifeMaxRatio         float64 `yaml:"life_max_ratio"`
}

// ScoreConfig holds the incentive score settings.
type ScoreConfig struct {
	SeedUpDownload SeedUpDownload `yaml:"seed_up_download"`
	SeedTimed      SeedTimed      `yaml:"seed_timed"`
	SeederAndLife  SeederAndLife  `yaml:"seeder_and_life"`
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg ScoreConfig) Validate() ScoreConfig {
	validcfg := cfg

	if cfg.SeedUpDownload.AdditionSize == 0 {
		validcfg.SeedUpDownload.AdditionSize = defaultAdditionSize
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "score.SeedUpDownload.AdditionSize",
			"provided": cfg.SeedUpDownload.AdditionSize,
			"default":  validcfg.SeedUpDownload.AdditionSize,
		})
	}

	if cfg.SeedUpDownload.PerlSize == 0 {
		validcfg.SeedUpDownload.PerlSize = defaultPerlSize
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "score.SeedUpDownload.PerlSize",
			"provided": cfg.SeedUpDownload.PerlSize,
			"default":  validcfg.SeedUpDownload.PerlSize,
		})
	}

	if cfg.SeedTimed.AdditionTime <= 0 {
		validcfg.SeedTimed.AdditionTime = defaultAdditionTime
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "score.SeedTimed.AdditionTime",
			"provided": cfg.SeedTimed.AdditionTime,
			"default":  validcfg.SeedTimed.AdditionTime,
		})
	}

	return validcfg
}

func roundScore(s float64) float64 {
	return math.Round(s*100) / 100
}

func (cfg SeedUpDownload) unit(size uint64) float64 {
	if size > cfg.AdditionSize {
		return math.Sqrt(float64(size) / float64(cfg.AdditionSize))
	}
	return 1
}

// volume computes the score for the raw byte deltas of an announce.
func (cfg ScoreConfig) volume(t *storage.Torrent, u *storage.User, uploaded, downloaded uint64, now time.Time) float64 {
	a := cfg.SeedUpDownload
	if !a.Enable {
		return 0
	}

	var up, down float64
	if uploaded > 0 && a.UploadEnable {
		up = a.unit(t.Size) * a.UploadValue * float64(uploaded) / float64(a.PerlSize)
		if u.ID == t.OwnerID {
			up *= a.UploaderRatio
		}
	}
	if downloaded > 0 && a.DownloadEnable {
		down = a.unit(t.Size) * a.DownloadValue * float64(downloaded) / float64(a.PerlSize)
	}

	total := up + down
	if total <= 0 {
		return 0
	}
	return cfg.bonus(total, a.VIPRatio, t, u, now)
}

// timed computes the score for seeding during elapsed.
func (cfg ScoreConfig) timed(t *storage.Torrent, u *storage.User, elapsed time.Duration, now time.Time) float64 {
	a := cfg.SeedTimed
	if !a.Enable {
		return 0
	}

	score := float64(elapsed) / float64(a.AdditionTime) * a.TimedValue
	if score <= 0 {
		return 0
	}
	return cfg.bonus(score, a.VIPRatio, t, u, now)
}

// bonus applies the VIP, seeder scarcity and torrent age multipliers and
// rounds to two decimals.
func (cfg ScoreConfig) bonus(score, vipRatio float64, t *storage.Torrent, u *storage.User, now time.Time) float64 {
	if vipRatio > 0 && u.IsVIP {
		score *= vipRatio
	}

	sl := cfg.SeederAndLife
	if sl.Enable {
		if t.Seeds <= sl.SeederCount {
			score *= sl.SeederBasicRatio + sl.SeederCoefficient*float64(sl.SeederCount-t.Seeds+1)
		}

		var days float64
		if !t.CreatedAt.IsZero() {
			days = now.Sub(t.CreatedAt).Hours() / 24
		}
		life := sl.LifeBasicRatio + sl.LifeCoefficientOfDay*days
		if life > sl.LifeMaxRatio {
			life = sl.LifeMaxRatio
		}
		score *= life
	}

	return roundScore(score)
}
