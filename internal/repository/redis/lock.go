package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string        `mapstructure:"addr" validate:"required"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key" validate:"required"`
	TTL      time.Duration `mapstructure:"ttl" validate:"required"`
}

func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// KEYS[1] lock key, ARGV[1] owner, ARGV[2] ttl ms.
var acquireScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a lease held by at most one owner at a time. The holder extends it
// on every Acquire; it lapses by itself if the holder stops renewing.
type Lock struct {
	client goredis.Scripter
	key    string
	owner  string
	ttl    time.Duration
	log    *zap.Logger

	held bool
}

func NewLock(client goredis.Scripter, key string, ttl time.Duration, log *zap.Logger) *Lock {
	if log == nil {
		log = zap.NewNop()
	}
	owner := uuid.NewString()
	return &Lock{
		client: client,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		log:    log.With(zap.String("component", "redis.lock"), zap.String("key", key), zap.String("owner", owner)),
	}
}

func (l *Lock) Owner() string { return l.owner }

// Acquire takes or renews the lease and reports whether this owner holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	held := n == 1
	if held != l.held {
		if held {
			l.log.Info("leadership acquired")
		} else {
			l.log.Info("leadership lost")
		}
		l.held = held
	}
	return held, nil
}

// Release drops the lease if this owner still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	l.held = false
	return nil
}
