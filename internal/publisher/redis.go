package publisher

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/model"
	"context"
	"fmt"
	"math"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

func init() {
	Register("redis", func(def config.PublisherDef) (model.Publisher, error) {
		return NewRedis(context.Background(), def.Redis)
	})
}

// Redis keeps cumulative counters in one hash per logical object, e.g.
// "ofstats:policy_stats:42-3-4" -> {packets, bytes}.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return newRedis(client, cfg.KeyPrefix), nil
}

func newRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ofstats"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

// Key returns the hash key of a logical object.
func (r *Redis) Key(table string, k model.LogicalKey) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, table, k)
}

// Publish increments the hashes of every key of the delta in one transaction.
func (r *Redis) Publish(ctx context.Context, d model.Delta) error {
	if len(d.Counters) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, c := range d.Counters {
			key := r.Key(d.TableName, k)
			packets, clamped := hashIncrement(c.Packets)
			bytes, bclamped := hashIncrement(c.Bytes)
			if clamped || bclamped {
				log.Warnf("Redis: delta for %s exceeds the hash integer range, clamped", key)
			}
			pipe.HIncrBy(ctx, key, "packets", packets)
			pipe.HIncrBy(ctx, key, "bytes", bytes)
			if d.AgentUUID != "" {
				pipe.HSet(ctx, key, "agent", d.AgentUUID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update counters in redis: %w", err)
	}
	return nil
}

// hashIncrement converts a counter delta to a HINCRBY argument. Redis hash
// integers are signed 64-bit, so larger deltas are clamped to MaxInt64.
func hashIncrement(v uint64) (int64, bool) {
	if v > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(v), false
}

func (r *Redis) Close() error {
	return r.client.Close()
}
