package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/animus-deploy/internal/platform/env"
)

const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	refreshScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

func RedisConfigFromEnv() (RedisConfig, error) {
	db, err := env.Int("DEPLOY_REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := env.Duration("DEPLOY_LEASE_TTL", 2*time.Minute)
	if err != nil {
		return RedisConfig{}, err
	}
	poll, err := env.Duration("DEPLOY_LEASE_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return RedisConfig{}, err
	}
	cfg := RedisConfig{
		Addr:         env.String("DEPLOY_REDIS_ADDR", "localhost:6379"),
		Password:     env.String("DEPLOY_REDIS_PASSWORD", ""),
		DB:           db,
		Prefix:       env.String("DEPLOY_LEASE_PREFIX", "animus-deploy:lease:"),
		TTL:          ttl,
		PollInterval: poll,
	}
	if err := cfg.Validate(); err != nil {
		return RedisConfig{}, err
	}
	return cfg, nil
}

func (c RedisConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("DEPLOY_REDIS_ADDR is required")
	}
	if c.TTL < time.Second {
		return errors.New("DEPLOY_LEASE_TTL must be at least 1s")
	}
	if c.PollInterval <= 0 {
		return errors.New("DEPLOY_LEASE_POLL_INTERVAL must be positive")
	}
	return nil
}

// RedisLeaser serializes holders across processes with SET NX PX. The holder
// keeps the key alive until Release; a crashed holder's key expires after TTL.
type RedisLeaser struct {
	client redisClient
	cfg    RedisConfig
	logger *slog.Logger
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisLeaser(client redisClient, cfg RedisConfig, logger *slog.Logger) (*RedisLeaser, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLeaser{client: client, cfg: cfg, logger: logger}, nil
}

func (r *RedisLeaser) Acquire(ctx context.Context, key Key) (Lease, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	redisKey := r.cfg.Prefix + key.String()
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, unavailable(key, fmt.Errorf("redis setnx: %w", err))
		}
		if ok {
			l := &redisLease{key: key, redisKey: redisKey, token: token, leaser: r, stop: make(chan struct{})}
			go l.keepAlive()
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, unavailable(key, ctx.Err())
		case <-ticker.C:
		}
	}
}

type redisLease struct {
	key      Key
	redisKey string
	token    string
	leaser   *RedisLeaser
	stop     chan struct{}
	once     sync.Once
}

func (l *redisLease) Key() Key { return l.key }

func (l *redisLease) keepAlive() {
	interval := l.leaser.cfg.TTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			res, err := l.leaser.client.Eval(ctx, refreshScript, []string{l.redisKey}, l.token, l.leaser.cfg.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.leaser.logger.Warn("lease refresh failed", "lease", l.key.String(), "error", err)
				continue
			}
			if res == 0 {
				l.leaser.logger.Error("lease lost", "lease", l.key.String())
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		_, err = l.leaser.client.Eval(ctx, releaseScript, []string{l.redisKey}, l.token).Int64()
		if err != nil {
			err = fmt.Errorf("release lease %s: %w", l.key, err)
		}
	})
	return err
}
