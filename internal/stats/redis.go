package stats

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder aggregates quota decisions in a Redis hash so several
// replicas share one view. Totals are cumulative and never expire.
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRecorder(rdb *redis.Client, prefix string) *RedisRecorder {
	if prefix == "" {
		prefix = "mangadrop:quota"
	}
	return &RedisRecorder{rdb: rdb, prefix: prefix}
}

func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.HIncrBy(ctx, r.prefix, counterKey(ev), 1).Err()
}

func (r *RedisRecorder) Snapshot(ctx context.Context) (map[string]uint64, error) {
	if r == nil || r.rdb == nil {
		return map[string]uint64{}, nil
	}
	fields, err := r.rdb.HGetAll(ctx, r.prefix).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(fields))
	for field, raw := range fields {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		out[field] = value
	}
	return out, nil
}
