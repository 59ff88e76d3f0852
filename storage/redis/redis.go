package redis

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/redigo"
	redigolib "github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// backend owns the connection pool shared by the record commands and the
// session mutexes.
type backend struct {
	pool    *redigolib.Pool
	redsync *redsync.Redsync
}

// newBackend dials nothing: connections are opened lazily by the pool and
// health-checked when they are borrowed after idling for cfg.RedisIdleCheck.
func newBackend(cfg Config, b *broker) *backend {
	pool := &redigolib.Pool{
		MaxIdle:     cfg.RedisMaxIdle,
		MaxActive:   cfg.RedisMaxActive,
		IdleTimeout: cfg.RedisIdleTimeout,
		// An exhausted pool makes announces queue for a connection instead of
		// failing; the request context bounds the wait.
		Wait: true,
		Dial: func() (redigolib.Conn, error) {
			return b.dial(cfg)
		},
		TestOnBorrow: func(c redigolib.Conn, idleSince time.Time) error {
			if time.Since(idleSince) < cfg.RedisIdleCheck {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	return &backend{
		pool:    pool,
		redsync: redsync.New(redigo.NewPool(pool)),
	}
}

// ping checks that redis answers on a fresh pooled connection.
func (b *backend) ping(ctx context.Context) error {
	c, err := b.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = redigolib.String(c.Do("PING"))
	return err
}

// broker is the parsed form of a redis_broker URL:
//
//	redis://[[user]:password@]host[:port][/db]
//	redis-socket://[password@]/path/to/socket[?db=db]
type broker struct {
	Network  string
	Address  string
	Password string
	DB       int
}

func (b *broker) dial(cfg Config) (redigolib.Conn, error) {
	opts := []redigolib.DialOption{
		redigolib.DialDatabase(b.DB),
		redigolib.DialReadTimeout(cfg.RedisReadTimeout),
		redigolib.DialWriteTimeout(cfg.RedisWriteTimeout),
		redigolib.DialConnectTimeout(cfg.RedisConnectTimeout),
	}
	if b.Password != "" {
		opts = append(opts, redigolib.DialPassword(b.Password))
	}

	c, err := redigolib.Dial(b.Network, b.Address, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial redis at %s", b.Address)
	}
	return c, nil
}

func parseBroker(target string) (*broker, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis broker")
	}

	b := &broker{}
	if u.User != nil {
		// A lone userinfo part is the password, as in redis://secret@host.
		if pw, ok := u.User.Password(); ok {
			b.Password = pw
		} else {
			b.Password = u.User.Username()
		}
	}

	var db string
	switch u.Scheme {
	case "redis":
		if u.Host == "" {
			return nil, errors.New("redis broker has no host")
		}
		b.Network, b.Address = "tcp", u.Host
		db = strings.Trim(u.Path, "/")
	case "redis-socket":
		if u.Path == "" {
			return nil, errors.New("redis broker has no socket path")
		}
		b.Network, b.Address = "unix", u.Path
		db = u.Query().Get("db")
	default:
		return nil, errors.Errorf("unsupported redis broker scheme %q", u.Scheme)
	}

	if db != "" {
		if b.DB, err = strconv.Atoi(db); err != nil || b.DB < 0 {
			return nil, errors.Errorf("invalid redis db %q", db)
		}
	}

	return b, nil
}
