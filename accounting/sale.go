package accounting

import (
	"time"

	"github.com/pttracker/pttracker/pkg/log"
)

// Ratio is a pair of multipliers applied to uploaded and downloaded bytes.
type Ratio struct {
	Up   float64 `yaml:"ur"`
	Down float64 `yaml:"dr"`
}

// identity is the ratio of a torrent without any promotion.
var identity = Ratio{Up: 1, Down: 1}

// saleRatios maps the sale status codes of torrents to their ratios.
// Unknown codes, including U1/D1, use identity.
var saleRatios = map[string]Ratio{
	"U1/FREE": {1, 0},
	"U1/D.3":  {1, 0.3},
	"U1/D.5":  {1, 0.5},
	"U1/D.8":  {1, 0.8},
	"U2/FREE": {2, 0},
	"U2/D.3":  {2, 0.3},
	"U2/D.5":  {2, 0.5},
	"U2/D.8":  {2, 0.8},
	"U2/D1":   {2, 1},
	"U3/FREE": {3, 0},
	"U3/D.5":  {3, 0.5},
	"U3/D.8":  {3, 0.8},
	"U3/D1":   {3, 1},
}

// GlobalSale is a site-wide sale status that overrides the status of every
// torrent while its window is open.
type GlobalSale struct {
	Value   string        `yaml:"value"`
	StartAt time.Time     `yaml:"start_at"`
	Expires time.Duration `yaml:"expires"`
}

// Active reports whether the sale window is open at now.
func (g GlobalSale) Active(now time.Time) bool {
	if g.Value == "" {
		return false
	}
	return now.After(g.StartAt) && now.Before(g.StartAt.Add(g.Expires))
}

// SaleRatio returns the ratio for a torrent with the sale status code at now,
// and whether the global sale overrode code.
func SaleRatio(code string, global GlobalSale, now time.Time) (Ratio, bool) {
	active := global.Active(now)
	if active {
		code = global.Value
	}

	r, ok := saleRatios[code]
	if !ok {
		r = identity
	}
	return r, active
}

// SalesConfig holds the traffic multipliers of the site.
type SalesConfig struct {
	Global   GlobalSale `yaml:"global"`
	VIP      Ratio      `yaml:"vip"`
	Uploader Ratio      `yaml:"uploader"`
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg SalesConfig) Validate() SalesConfig {
	validcfg := cfg

	if cfg.VIP == (Ratio{}) {
		validcfg.VIP = identity
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "sales.VIP",
			"provided": cfg.VIP,
			"default":  validcfg.VIP,
		})
	}

	if cfg.Uploader == (Ratio{}) {
		validcfg.Uploader = identity
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "sales.Uploader",
			"provided": cfg.Uploader,
			"default":  validcfg.Uploader,
		})
	}

	return validcfg
}
