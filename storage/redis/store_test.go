package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

func createNew(t *testing.T) (storage.Store, *miniredis.Miniredis) {
	rs, err := miniredis.Run()
	require.Nil(t, err)

	s, err := New(Config{
		RedisBroker:         fmt.Sprintf("redis://@%s/0", rs.Addr()),
		RedisReadTimeout:    10 * time.Second,
		RedisWriteTimeout:   10 * time.Second,
		RedisConnectTimeout: 10 * time.Second,
		KeyPrefix:           "test:",
		SessionLockExpiry:   10 * time.Second,
	})
	require.Nil(t, err)

	return s, rs
}

func TestStore(t *testing.T) {
	s, rs := createNew(t)
	defer rs.Close()

	storage.TestStore(t, s)
}

func TestKeyPrefix(t *testing.T) {
	s, rs := createNew(t)
	defer rs.Close()
	defer func() { s.Stop().Wait() }()

	require.Nil(t, s.PutUser(context.Background(), &storage.User{ID: 3, Passkey: "0123456789abcdef0123456789abcdef"}))
	require.True(t, rs.Exists("test:user:3"))
	require.True(t, rs.Exists("test:passkey:0123456789abcdef0123456789abcdef"))

	got, err := rs.Get("test:passkey:0123456789abcdef0123456789abcdef")
	require.Nil(t, err)
	require.Equal(t, "3", got)
}

func TestPasskeyChange(t *testing.T) {
	s, rs := createNew(t)
	defer rs.Close()
	defer func() { s.Stop().Wait() }()

	require.Nil(t, s.PutUser(context.Background(), &storage.User{ID: 3, Passkey: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}))
	require.Nil(t, s.PutUser(context.Background(), &storage.User{ID: 3, Passkey: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}))

	_, err := s.UserByPasskey(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.Equal(t, storage.ErrResourceDoesNotExist, err)

	u, err := s.UserByPasskey(context.Background(), "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.Nil(t, err)
	require.Equal(t, uint64(3), u.ID)
}

func TestValidateDefaults(t *testing.T) {
	cfg := Config{}.Validate()
	require.Equal(t, defaultRedisBroker, cfg.RedisBroker)
	require.Equal(t, defaultRedisReadTimeout, cfg.RedisReadTimeout)
	require.Equal(t, defaultRedisWriteTimeout, cfg.RedisWriteTimeout)
	require.Equal(t, defaultRedisConnectTimeout, cfg.RedisConnectTimeout)
	require.Equal(t, defaultSessionLockExpiry, cfg.SessionLockExpiry)

	cfg = Config{RedisBroker: "redis://127.0.0.1:6379/1", SessionLockExpiry: time.Second}.Validate()
	require.Equal(t, "redis://127.0.0.1:6379/1", cfg.RedisBroker)
	require.Equal(t, time.Second, cfg.SessionLockExpiry)
}

func TestValidatePoolSizing(t *testing.T) {
	cfg := Config{}.Validate()
	require.Equal(t, defaultRedisMaxIdle, cfg.RedisMaxIdle)
	require.Equal(t, defaultRedisMaxActive, cfg.RedisMaxActive)
	require.Equal(t, defaultRedisIdleTimeout, cfg.RedisIdleTimeout)
	require.Equal(t, defaultRedisIdleCheck, cfg.RedisIdleCheck)

	cfg = Config{RedisMaxIdle: 50, RedisMaxActive: 8}.Validate()
	require.Equal(t, 8, cfg.RedisMaxActive)
	require.Equal(t, 8, cfg.RedisMaxIdle)
}

func TestNewUnreachable(t *testing.T) {
	rs, err := miniredis.Run()
	require.Nil(t, err)
	addr := rs.Addr()
	rs.Close()

	_, err = New(Config{RedisBroker: "redis://" + addr + "/0", RedisConnectTimeout: time.Second})
	require.NotNil(t, err)
}

func TestSessionsShareBoundedPool(t *testing.T) {
	rs, err := miniredis.Run()
	require.Nil(t, err)
	defer rs.Close()

	s, err := New(Config{RedisBroker: "redis://" + rs.Addr(), RedisMaxActive: 2})
	require.Nil(t, err)
	defer func() { s.Stop().Wait() }()

	ctx := context.Background()
	ih := bittorrent.InfoHashFromString("00000000000000000009")
	for i := uint64(1); i <= 5; i++ {
		unlock, err := s.LockSession(ctx, ih, i)
		require.Nil(t, err)
		unlock()
	}
	require.Nil(t, s.PutUser(ctx, &storage.User{ID: 1, Passkey: "0123456789abcdef0123456789abcdef"}))
}

func TestParseBroker(t *testing.T) {
	var table = []struct {
		url      string
		expected broker
		err      bool
	}{
		{"redis://127.0.0.1:6379", broker{Network: "tcp", Address: "127.0.0.1:6379"}, false},
		{"redis://pwd@127.0.0.1:6379/2", broker{Network: "tcp", Address: "127.0.0.1:6379", Password: "pwd", DB: 2}, false},
		{"redis://:secret@127.0.0.1:6379/", broker{Network: "tcp", Address: "127.0.0.1:6379", Password: "secret"}, false},
		{"redis-socket://pwd@/var/run/redis.sock?db=3", broker{Network: "unix", Address: "/var/run/redis.sock", Password: "pwd", DB: 3}, false},
		{"redis://127.0.0.1:6379/x", broker{}, true},
		{"redis:///0", broker{}, true},
		{"redis-socket://pwd@", broker{}, true},
		{"http://127.0.0.1", broker{}, true},
	}

	for _, tt := range table {
		t.Run(tt.url, func(t *testing.T) {
			b, err := parseBroker(tt.url)
			if tt.err {
				require.NotNil(t, err)
				return
			}
			require.Nil(t, err)
			require.Equal(t, tt.expected, *b)
		})
	}
}
