package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/stop"
	"github.com/pttracker/pttracker/storage"
)

// Default config constants.
const (
	defaultGarbageCollectionInterval = time.Minute * 3
	defaultPeerLifetime              = time.Minute * 41
)

// Config holds the configuration of the stale peer collector.
type Config struct {
	GarbageCollectionInterval time.Duration `yaml:"gc_interval"`
	PeerLifetime              time.Duration `yaml:"peer_lifetime"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"gcInterval":   cfg.GarbageCollectionInterval,
		"peerLifetime": cfg.PeerLifetime,
	}
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.GarbageCollectionInterval <= 0 {
		validcfg.GarbageCollectionInterval = defaultGarbageCollectionInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "swarm.GarbageCollectionInterval",
			"provided": cfg.GarbageCollectionInterval,
			"default":  validcfg.GarbageCollectionInterval,
		})
	}

	if cfg.PeerLifetime <= 0 {
		validcfg.PeerLifetime = defaultPeerLifetime
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "swarm.PeerLifetime",
			"provided": cfg.PeerLifetime,
			"default":  validcfg.PeerLifetime,
		})
	}

	return validcfg
}

// Collector periodically prunes the peers that stopped announcing.
type Collector struct {
	m       *Manager
	cfg     Config
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewCollector starts a Collector for the swarms of m.
func NewCollector(m *Manager, provided Config) *Collector {
	c := &Collector{
		m:       m,
		cfg:     provided.Validate(),
		closing: make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.closing:
				return
			case <-time.After(c.cfg.GarbageCollectionInterval):
				before := time.Now().Add(-c.cfg.PeerLifetime)
				log.Debug("swarm: purging peers with no announces since", log.Fields{"before": before})
				c.collect(before)
			}
		}
	}()

	return c
}

func (c *Collector) collect(cutoff time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	pruned, err := c.m.Prune(ctx, cutoff)
	storage.RecordGCDuration(time.Since(start))
	if err != nil {
		log.Error("swarm: garbage collection failed", log.Err(err))
		return
	}
	log.Debug("swarm: purged stale peers", log.Fields{"pruned": pruned})
}

// Stop stops the Collector and waits for a running collection to finish.
func (c *Collector) Stop() stop.Result {
	ch := make(stop.Channel)
	go func() {
		close(c.closing)
		c.wg.Wait()
		ch.Done()
	}()
	return ch.Result()
}
