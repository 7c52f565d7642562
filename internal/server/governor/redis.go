package governor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pindrop:governor:"

// RedisLedger shares the ledger between server instances. Each origin owns two
// sorted sets scored by unix milliseconds; both carry a TTL of one Period so
// idle origins disappear on their own.
type RedisLedger struct {
	client redis.Cmdable
	period time.Duration
}

func NewRedisLedger(client redis.Cmdable) *RedisLedger {
	return &RedisLedger{client: client, period: Period}
}

func attemptsKey(origin string) string { return keyPrefix + "attempts:" + origin }
func failuresKey(origin string) string { return keyPrefix + "failures:" + origin }

func (r *RedisLedger) Counts(ctx context.Context, origin string, now time.Time) (Counts, error) {
	ak, fk := attemptsKey(origin), failuresKey(origin)
	cutoff := strconv.FormatInt(now.Add(-r.period).UnixMilli(), 10)

	var (
		attempts *redis.IntCmd
		failures *redis.IntCmd
		oldest   *redis.ZSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, ak, "-inf", cutoff)
		pipe.ZRemRangeByScore(ctx, fk, "-inf", cutoff)
		attempts = pipe.ZCard(ctx, ak)
		failures = pipe.ZCard(ctx, fk)
		oldest = pipe.ZRangeWithScores(ctx, ak, 0, 0)
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("redis counts: %w", err)
	}

	c := Counts{Attempts: int(attempts.Val()), Failures: int(failures.Val())}
	if z := oldest.Val(); len(z) > 0 {
		c.OldestAttempt = time.UnixMilli(int64(z[0].Score))
	}
	return c, nil
}

func (r *RedisLedger) AddAttempt(ctx context.Context, origin string, at time.Time) error {
	return r.add(ctx, attemptsKey(origin), at)
}

func (r *RedisLedger) AddFailure(ctx context.Context, origin string, at time.Time) error {
	return r.add(ctx, failuresKey(origin), at)
}

func (r *RedisLedger) add(ctx context.Context, key string, at time.Time) error {
	// Members must be unique or two events in the same millisecond collapse.
	member := strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.NewString()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.PExpire(ctx, key, r.period)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add: %w", err)
	}
	return nil
}
