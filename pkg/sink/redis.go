package sink

import (
	"context"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	RedisModeList   = "list"
	RedisModePubSub = "pubsub"
)

// RedisOutput pushes records onto a list or publishes them on a channel.
type RedisOutput struct {
	client *redis.Client
	key    string
	mode   string
}

func NewRedisOutput(addr, password string, db int, key, mode string) (*RedisOutput, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "redis %s", addr)
	}
	return &RedisOutput{client: rdb, key: key, mode: mode}, nil
}

func (r *RedisOutput) Name() string { return "redis" }

func (r *RedisOutput) Send(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, e := range events {
		data, err := encode(e)
		if err != nil {
			return err
		}
		if r.mode == RedisModePubSub {
			pipe.Publish(ctx, r.key, data)
		} else {
			pipe.LPush(ctx, r.key, data)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisOutput) Close() error { return r.client.Close() }
