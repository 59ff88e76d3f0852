// Package redis implements the storage interface for a private BitTorrent
// tracker keeping every record in redis.
//
// Keys are laid out as follows, all optionally preceded by KeyPrefix:
//
//	user:<id>                   hash of a User
//	user:<id>:peers             set of the Peer record IDs of a User
//	passkey:<passkey>           ID of the User owning the passkey
//	torrent:<infohash>          hash of a Torrent
//	torrent:<infohash>:swarm    sorted set of the swarm, scored by insertion
//	torrent:<infohash>:peers    set of every Peer record ID of a Torrent
//	peer:<id>                   hash of a Peer
//	peers:last_announce         sorted set of Peer record IDs by last announce
//	complete:<infohash>:<user>  hash of a Complete
//	finished:<infohash>:<user>  list of Finished record IDs
//	finished:<id>               hash of a Finished
//	lock:<infohash>:<user>      session mutex
package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	redigolib "github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/stop"
	"github.com/pttracker/pttracker/storage"
)

// Name is the name by which this store is registered.
const Name = "redis"

// Default config constants.
const (
	defaultRedisBroker         = "redis://myRedis@127.0.0.1:6379/0"
	defaultRedisReadTimeout    = time.Second * 15
	defaultRedisWriteTimeout   = time.Second * 15
	defaultRedisConnectTimeout = time.Second * 15
	defaultSessionLockExpiry   = time.Second * 30
	defaultRedisMaxIdle        = 16
	defaultRedisMaxActive      = 128
	defaultRedisIdleTimeout    = time.Minute * 4
	defaultRedisIdleCheck      = time.Second * 10
)

func init() {
	// Register the storage driver.
	storage.RegisterDriver(Name, driver{})
}

type driver struct{}

func (d driver) NewStore(icfg interface{}) (storage.Store, error) {
	// Marshal the config back into bytes.
	bytes, err := yaml.Marshal(icfg)
	if err != nil {
		return nil, err
	}

	// Unmarshal the bytes into the proper config type.
	var cfg Config
	err = yaml.Unmarshal(bytes, &cfg)
	if err != nil {
		return nil, err
	}

	return New(cfg)
}

// Config holds the configuration of a redis Store.
type Config struct {
	RedisBroker         string        `yaml:"redis_broker"`
	RedisReadTimeout    time.Duration `yaml:"redis_read_timeout"`
	RedisWriteTimeout   time.Duration `yaml:"redis_write_timeout"`
	RedisConnectTimeout time.Duration `yaml:"redis_connect_timeout"`
	KeyPrefix           string        `yaml:"key_prefix"`
	SessionLockExpiry   time.Duration `yaml:"session_lock_expiry"`

	// RedisMaxActive bounds the connections open at once. Every announce
	// holds one for its session mutex and borrows another per command.
	RedisMaxIdle     int           `yaml:"redis_max_idle"`
	RedisMaxActive   int           `yaml:"redis_max_active"`
	RedisIdleTimeout time.Duration `yaml:"redis_idle_timeout"`
	RedisIdleCheck   time.Duration `yaml:"redis_idle_check"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"name":                Name,
		"redisBroker":         cfg.RedisBroker,
		"redisReadTimeout":    cfg.RedisReadTimeout,
		"redisWriteTimeout":   cfg.RedisWriteTimeout,
		"redisConnectTimeout": cfg.RedisConnectTimeout,
		"keyPrefix":           cfg.KeyPrefix,
		"sessionLockExpiry":   cfg.SessionLockExpiry,
		"redisMaxIdle":        cfg.RedisMaxIdle,
		"redisMaxActive":      cfg.RedisMaxActive,
		"redisIdleTimeout":    cfg.RedisIdleTimeout,
		"redisIdleCheck":      cfg.RedisIdleCheck,
	}
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.RedisBroker == "" {
		validcfg.RedisBroker = defaultRedisBroker
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisBroker",
			"provided": cfg.RedisBroker,
			"default":  validcfg.RedisBroker,
		})
	}

	if cfg.RedisReadTimeout <= 0 {
		validcfg.RedisReadTimeout = defaultRedisReadTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisReadTimeout",
			"provided": cfg.RedisReadTimeout,
			"default":  validcfg.RedisReadTimeout,
		})
	}

	if cfg.RedisWriteTimeout <= 0 {
		validcfg.RedisWriteTimeout = defaultRedisWriteTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisWriteTimeout",
			"provided": cfg.RedisWriteTimeout,
			"default":  validcfg.RedisWriteTimeout,
		})
	}

	if cfg.RedisConnectTimeout <= 0 {
		validcfg.RedisConnectTimeout = defaultRedisConnectTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisConnectTimeout",
			"provided": cfg.RedisConnectTimeout,
			"default":  validcfg.RedisConnectTimeout,
		})
	}

	if cfg.SessionLockExpiry <= 0 {
		validcfg.SessionLockExpiry = defaultSessionLockExpiry
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".SessionLockExpiry",
			"provided": cfg.SessionLockExpiry,
			"default":  validcfg.SessionLockExpiry,
		})
	}

	if cfg.RedisMaxIdle <= 0 {
		validcfg.RedisMaxIdle = defaultRedisMaxIdle
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisMaxIdle",
			"provided": cfg.RedisMaxIdle,
			"default":  validcfg.RedisMaxIdle,
		})
	}

	if cfg.RedisMaxActive <= 0 {
		validcfg.RedisMaxActive = defaultRedisMaxActive
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisMaxActive",
			"provided": cfg.RedisMaxActive,
			"default":  validcfg.RedisMaxActive,
		})
	}

	if validcfg.RedisMaxIdle > validcfg.RedisMaxActive {
		validcfg.RedisMaxIdle = validcfg.RedisMaxActive
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisMaxIdle",
			"provided": cfg.RedisMaxIdle,
			"default":  validcfg.RedisMaxIdle,
		})
	}

	if cfg.RedisIdleTimeout <= 0 {
		validcfg.RedisIdleTimeout = defaultRedisIdleTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisIdleTimeout",
			"provided": cfg.RedisIdleTimeout,
			"default":  validcfg.RedisIdleTimeout,
		})
	}

	if cfg.RedisIdleCheck <= 0 {
		validcfg.RedisIdleCheck = defaultRedisIdleCheck
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".RedisIdleCheck",
			"provided": cfg.RedisIdleCheck,
			"default":  validcfg.RedisIdleCheck,
		})
	}

	return validcfg
}

type store struct {
	*backend

	prefix     string
	lockExpiry time.Duration
	closed     chan struct{}
}

var _ storage.Store = &store{}

// New creates a new Store backed by redis.
func New(provided Config) (storage.Store, error) {
	cfg := provided.Validate()

	b, err := parseBroker(cfg.RedisBroker)
	if err != nil {
		return nil, err
	}

	s := &store{
		backend:    newBackend(cfg, b),
		prefix:     cfg.KeyPrefix,
		lockExpiry: cfg.SessionLockExpiry,
		closed:     make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RedisConnectTimeout)
	defer cancel()
	if err := s.ping(ctx); err != nil {
		s.pool.Close()
		return nil, errors.Wrap(err, "failed to reach redis")
	}

	return s, nil
}

func (s *store) checkOpen() {
	select {
	case <-s.closed:
		panic("attempted to interact with stopped redis store")
	default:
	}
}

// conn returns a pooled connection bound to ctx.
func (s *store) conn(ctx context.Context) (redigolib.Conn, error) {
	s.checkOpen()
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get a redis connection")
	}
	return c, nil
}

func (s *store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func id(n uint64) string { return strconv.FormatUint(n, 10) }

func (s *store) userKey(userID uint64) string      { return s.key("user", id(userID)) }
func (s *store) userPeersKey(userID uint64) string { return s.key("user", id(userID), "peers") }
func (s *store) passkeyKey(passkey string) string  { return s.key("passkey", passkey) }

func (s *store) torrentKey(ih bittorrent.InfoHash) string { return s.key("torrent", ih.String()) }
func (s *store) swarmKey(ih bittorrent.InfoHash) string   { return s.key("torrent", ih.String(), "swarm") }
func (s *store) torrentPeersKey(ih bittorrent.InfoHash) string {
	return s.key("torrent", ih.String(), "peers")
}
func (s *store) swarmSeqKey() string { return s.key("swarm_seq") }

func (s *store) peerKey(recordID string) string { return s.key("peer", recordID) }
func (s *store) lastAnnounceKey() string        { return s.key("peers", "last_announce") }

func (s *store) completeKey(ih bittorrent.InfoHash, userID uint64) string {
	return s.key("complete", ih.String(), id(userID))
}
func (s *store) finishedListKey(ih bittorrent.InfoHash, userID uint64) string {
	return s.key("finished", ih.String(), id(userID))
}
func (s *store) finishedKey(recordID string) string { return s.key("finished", recordID) }
func (s *store) lockKey(ih bittorrent.InfoHash, userID uint64) string {
	return s.key("lock", ih.String(), id(userID))
}

// mustExist returns ErrResourceDoesNotExist unless key exists.
func mustExist(c redigolib.Conn, key string) error {
	ok, err := redigolib.Bool(c.Do("EXISTS", key))
	if err != nil {
		return errors.Wrapf(err, "failed to check %s", key)
	}
	if !ok {
		return storage.ErrResourceDoesNotExist
	}
	return nil
}

// getHash scans the hash at key into dst.
func getHash(c redigolib.Conn, key string, dst interface{}) error {
	values, err := redigolib.Values(c.Do("HGETALL", key))
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", key)
	}
	if len(values) == 0 {
		return storage.ErrResourceDoesNotExist
	}
	if err := redigolib.ScanStruct(values, dst); err != nil {
		return errors.Wrapf(err, "failed to decode %s", key)
	}
	return nil
}

func (s *store) PutUser(ctx context.Context, u *storage.User) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	old, err := redigolib.String(c.Do("HGET", s.userKey(u.ID), "passkey"))
	if err != nil && err != redigolib.ErrNil {
		return errors.Wrap(err, "failed to read previous passkey")
	}

	c.Send("MULTI")
	if old != "" && old != u.Passkey {
		c.Send("DEL", s.passkeyKey(old))
	}
	c.Send("HMSET", redigolib.Args{}.Add(s.userKey(u.ID)).AddFlat(newUserRecord(u))...)
	c.Send("SET", s.passkeyKey(u.Passkey), u.ID)
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrap(err, "failed to put user")
	}
	return nil
}

func (s *store) user(c redigolib.Conn, userID uint64) (*storage.User, error) {
	var rec userRecord
	if err := getHash(c, s.userKey(userID), &rec); err != nil {
		return nil, err
	}
	return rec.user(), nil
}

func (s *store) UserByPasskey(ctx context.Context, passkey string) (*storage.User, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	userID, err := redigolib.Uint64(c.Do("GET", s.passkeyKey(passkey)))
	if err == redigolib.ErrNil {
		return nil, storage.ErrResourceDoesNotExist
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to resolve passkey")
	}

	return s.user(c, userID)
}

func (s *store) RefreshUser(ctx context.Context, userID uint64, now time.Time) (*storage.User, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	u, err := s.user(c, userID)
	if err != nil {
		return nil, err
	}

	u.Refresh(now)
	_, err = c.Do("HMSET", s.userKey(userID), "vip", u.IsVIP, "ratio", u.Ratio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to refresh user")
	}
	return u, nil
}

// incr applies HINCRBY field/delta pairs to the hash at key in a transaction.
func incr(c redigolib.Conn, key string, pairs ...interface{}) error {
	if err := mustExist(c, key); err != nil {
		return err
	}

	c.Send("MULTI")
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Send("HINCRBY", key, pairs[i], pairs[i+1])
	}
	if _, err := c.Do("EXEC"); err != nil {
		return errors.Wrapf(err, "failed to increment %s", key)
	}
	return nil
}

func (s *store) IncUserTraffic(ctx context.Context, userID uint64, t storage.UserTraffic) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	pairs := []interface{}{
		"uploaded", t.Uploaded,
		"downloaded", t.Downloaded,
		"true_uploaded", t.TrueUploaded,
		"true_downloaded", t.TrueDownloaded,
	}
	if t.Examination {
		pairs = append(pairs, "exam_uploaded", t.Uploaded, "exam_downloaded", t.Downloaded)
	}
	return incr(c, s.userKey(userID), pairs...)
}

func (s *store) IncUserFinished(ctx context.Context, userID uint64) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return incr(c, s.userKey(userID), "finished", 1)
}

func (s *store) IncUserScore(ctx context.Context, userID uint64, delta float64) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.userKey(userID)); err != nil {
		return err
	}
	if _, err := c.Do("HINCRBYFLOAT", s.userKey(userID), "score", delta); err != nil {
		return errors.Wrap(err, "failed to increment score")
	}
	return nil
}

func (s *store) IncUserHnRWarning(ctx context.Context, userID uint64, delta int64) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.userKey(userID)); err != nil {
		return err
	}
	if _, err := incHnRWarningScript.Do(c, s.userKey(userID), delta); err != nil {
		return errors.Wrap(err, "failed to increment H&R warnings")
	}
	return nil
}

// incHnRWarningScript increments the warning counter, flooring it at zero.
var incHnRWarningScript = redigolib.NewScript(1, `
local v = redis.call("HINCRBY", KEYS[1], "hnr_warning", ARGV[1])
if v < 0 then
  redis.call("HSET", KEYS[1], "hnr_warning", 0)
  v = 0
end
return v
`)

func (s *store) SetUserSeedLeech(ctx context.Context, userID uint64, seeding, leeching int64) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := mustExist(c, s.userKey(userID)); err != nil {
		return err
	}
	if _, err := c.Do("HMSET", s.userKey(userID), "seeding", seeding, "leeching", leeching); err != nil {
		return errors.Wrap(err, "failed to set user seed/leech counts")
	}
	return nil
}

func (s *store) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(s.closed)
		err := s.pool.Close()
		log.Info("redis: stopped store")
		c.Done(err)
	}()

	return c.Result()
}
