package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "providence/internal/errors"
)

var _ Cache = (*Redis)(nil)

// Redis is the shared cache used by every worker process.
type Redis struct {
	client redis.UniversalClient
}

// RedisOption configures the redis connection.
type RedisOption struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to redis. The connection is lazy; Ping verifies it.
func NewRedis(opt RedisOption) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})}
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Ping(ctx context.Context) error {
	return xerrors.Transient(r.client.Ping(ctx).Err())
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Transient(xerrors.Wrap(err, "redis get "+key))
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return xerrors.Transient(xerrors.Wrap(err, "redis set "+key))
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, val, ttl).Result()
	if err != nil {
		return false, xerrors.Transient(xerrors.Wrap(err, "redis setnx "+key))
	}
	return ok, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return xerrors.Transient(xerrors.Wrap(err, "redis del"))
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
