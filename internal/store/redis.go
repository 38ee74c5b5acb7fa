package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
)

// DefaultRedisKey names the hash holding snapshots as JSON, one field per
// exercise start time. A sorted set under "<key>:index" orders them.
const DefaultRedisKey = "exercise:snapshots"

// RedisSource keeps snapshots in Redis for setups where the recorder runs in
// another process.
type RedisSource struct {
	client *redis.Client
	key    string
}

// ConnectRedis dials addr and verifies the server answers.
func ConnectRedis(ctx context.Context, addr, key string) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping %s: %w", addr, err)
	}
	return NewRedisSource(client, key), nil
}

// NewRedisSource wraps an existing client. An empty key selects DefaultRedisKey.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

func (r *RedisSource) indexKey() string { return r.key + ":index" }

// Upsert stores s under its start time.
func (r *RedisSource) Upsert(ctx context.Context, s *exercise.Snapshot) error {
	if s == nil {
		return errors.New("store: cannot store nil snapshot")
	}
	payload, err := exercise.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	field := strconv.FormatInt(s.StartTime, 10)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key, field, payload)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(s.StartTime), Member: field})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis upsert %s: %w", field, err)
	}
	return nil
}

// Latest returns the snapshot with the highest start time, or nil when none
// is stored.
func (r *RedisSource) Latest(ctx context.Context) (*exercise.Snapshot, error) {
	fields, err := r.client.ZRevRange(ctx, r.indexKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis latest index: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	payload, err := r.client.HGet(ctx, r.key, fields[0]).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis latest %s: %w", fields[0], err)
	}
	return exercise.UnmarshalSnapshot(payload)
}

func (r *RedisSource) Close() error { return r.client.Close() }
