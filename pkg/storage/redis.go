package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// RedisStore keeps all checkpoints as fields of one hash, <prefix>checkpoints,
// mirroring the postgres table layout.
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore connects to addr and checks it answers. prefix defaults to
// "scanner:".
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "redis %s", addr)
	}
	return newRedisStore(rdb, prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "scanner:"
	}
	return &RedisStore{client: client, hash: prefix + "checkpoints"}
}

func (r *RedisStore) LoadCursor(key string) (uint64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	height, err := r.client.HGet(ctx, r.hash, key).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, false, nil
	case err != nil:
		return 0, false, errors.Wrapf(err, "load checkpoint %s", key)
	}
	return height, true, nil
}

func (r *RedisStore) SaveCursor(key string, height uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return errors.Wrapf(r.client.HSet(ctx, r.hash, key, height).Err(), "save checkpoint %s", key)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
