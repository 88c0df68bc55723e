package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
)

// DefaultQueueKey is the sorted set holding outbound messages scored by ETA.
const DefaultQueueKey = "imam:outbound"

// RedisQueue keeps outbound messages in a Redis sorted set scored by ETA in
// unix milliseconds, so several workers can share it.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg *Outbound) error {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound %s: %w", msg.ID, err)
	}
	return q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(msg.ETA.UnixMilli()),
		Member: string(payload),
	}).Err()
}

// Due claims members with ZREM; only the worker whose ZREM removed the member
// delivers it.
func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]*Outbound, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due messages: %w", err)
	}

	out := make([]*Outbound, 0, len(members))
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return out, fmt.Errorf("claim message: %w", err)
		}
		if removed == 0 {
			continue
		}
		msg, err := decodeOutbound(member)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (q *RedisQueue) Pending(ctx context.Context, limit int) ([]*Outbound, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := q.client.ZRange(ctx, q.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}
	out := make([]*Outbound, 0, len(members))
	for _, member := range members {
		msg, err := decodeOutbound(member)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

func (q *RedisQueue) Name() string { return "redis" }

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func decodeOutbound(member string) (*Outbound, error) {
	var msg Outbound
	if err := sonic.UnmarshalString(member, &msg); err != nil {
		return nil, fmt.Errorf("decode outbound: %w", err)
	}
	return &msg, nil
}
