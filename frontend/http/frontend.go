// Package http implements the BitTorrent tracker protocol over HTTP GET, as
// described in BEP 3, BEP 23 and BEP 48, for a private tracker that
// identifies its users by passkey.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/frontend"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/stop"
)

// Config represents all of the configurable options for an HTTP BitTorrent
// Frontend.
type Config struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	EnableKeepAlive bool          `yaml:"enable_keepalive"`
	RealIPHeader    string        `yaml:"real_ip_header"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":            cfg.Addr,
		"readTimeout":     cfg.ReadTimeout,
		"writeTimeout":    cfg.WriteTimeout,
		"idleTimeout":     cfg.IdleTimeout,
		"enableKeepAlive": cfg.EnableKeepAlive,
		"realIPHeader":    cfg.RealIPHeader,
	}
}

// Default config constants.
const (
	defaultAddr         = "0.0.0.0:6969"
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultIdleTimeout  = 30 * time.Second
)

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.Addr == "" {
		validcfg.Addr = defaultAddr
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.Addr",
			"provided": cfg.Addr,
			"default":  validcfg.Addr,
		})
	}

	if cfg.ReadTimeout <= 0 {
		validcfg.ReadTimeout = defaultReadTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.ReadTimeout",
			"provided": cfg.ReadTimeout,
			"default":  validcfg.ReadTimeout,
		})
	}

	if cfg.WriteTimeout <= 0 {
		validcfg.WriteTimeout = defaultWriteTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.WriteTimeout",
			"provided": cfg.WriteTimeout,
			"default":  validcfg.WriteTimeout,
		})
	}

	if cfg.IdleTimeout <= 0 {
		validcfg.IdleTimeout = defaultIdleTimeout

		if cfg.EnableKeepAlive {
			// If keepalive is disabled, this configuration isn't used anyway.
			log.Warn("falling back to default configuration", log.Fields{
				"name":     "http.IdleTimeout",
				"provided": cfg.IdleTimeout,
				"default":  validcfg.IdleTimeout,
			})
		}
	}

	return validcfg
}

// Frontend represents the state of an HTTP BitTorrent Frontend.
type Frontend struct {
	srv   *http.Server
	logic frontend.TrackerLogic
	Config
}

// NewFrontend creates a new instance of an HTTP Frontend that asynchronously
// serves requests.
func NewFrontend(logic frontend.TrackerLogic, provided Config) (*Frontend, error) {
	cfg := provided.Validate()

	f := &Frontend{
		logic:  logic,
		Config: cfg,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	f.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      f.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	f.srv.SetKeepAlivesEnabled(cfg.EnableKeepAlive)

	go func() {
		if err := f.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed while serving http", log.Err(err))
		}
	}()

	return f, nil
}

// Stop provides a thread-safe way to shutdown a currently running Frontend.
func (f *Frontend) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		c.Done(f.srv.Shutdown(context.Background()))
	}()
	return c.Result()
}

// Handler returns the router serving announces and scrapes.
//
// Both "/announce/<passkey>" and "/<passkey>/announce" are accepted, as well
// as a bare "/announce" carrying the passkey in the query. httprouter cannot
// mix a static segment with a wildcard at the same depth, so every route is
// a wildcard and the action is resolved by name.
func (f *Frontend) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/:first", f.route)
	router.GET("/:first/:second", f.route)
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, bittorrent.NewFailure(bittorrent.CodeInvalidRequestType))
	})
	return router
}

const (
	actionAnnounce = "announce"
	actionScrape   = "scrape"
)

// splitRoute returns the action and the passkey named by the path segments.
func splitRoute(ps httprouter.Params) (action, passkey string) {
	first, second := ps.ByName("first"), ps.ByName("second")
	switch {
	case second == "":
		return first, ""
	case first == actionAnnounce || first == actionScrape:
		return first, second
	default:
		return second, first
	}
}

func (f *Frontend) route(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	action, passkey := splitRoute(ps)
	switch action {
	case actionAnnounce:
		f.announceRoute(w, r, passkey)
	case actionScrape:
		f.scrapeRoute(w, r, passkey)
	default:
		http.NotFound(w, r)
	}
}

// announceRoute parses and responds to an Announce.
func (f *Frontend) announceRoute(w http.ResponseWriter, r *http.Request, passkey string) {
	var err error
	var ip string
	start := time.Now()
	defer func() { recordResponseDuration(actionAnnounce, ip, err, time.Since(start)) }()

	req, err := ParseAnnounce(r, passkey, ParseOptions{RealIPHeader: f.RealIPHeader})
	if err != nil {
		WriteError(w, err)
		return
	}
	ip = req.IP

	resp, err := f.logic.HandleAnnounce(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	err = WriteAnnounceResponse(w, resp)
	if err != nil {
		log.Error("http: failed to write announce response", req, log.Err(err))
	}
}

// scrapeRoute parses and responds to a Scrape.
func (f *Frontend) scrapeRoute(w http.ResponseWriter, r *http.Request, passkey string) {
	var err error
	ip := remoteIP(r, f.RealIPHeader)
	start := time.Now()
	defer func() { recordResponseDuration(actionScrape, ip, err, time.Since(start)) }()

	req, err := ParseScrape(r, passkey)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp, err := f.logic.HandleScrape(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	err = WriteScrapeResponse(w, resp)
	if err != nil {
		log.Error("http: failed to write scrape response", req, log.Err(err))
	}
}
