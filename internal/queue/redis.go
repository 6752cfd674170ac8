package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "assetflow:queue:"
	// Sequence counters live outside redisKeyPrefix so Drain keeps them.
	redisSeqPrefix = "assetflow:queueseq:"
)

// scoreBand separates priority levels in a sorted-set score. Within one band
// entries with a lower sequence number score higher, so ZPOPMAX serves
// priority first, then FIFO.
const scoreBand = 1e13

// RedisDelegate keeps one sorted set per task type.
type RedisDelegate struct {
	client *redis.Client
}

func NewRedisDelegate(client *redis.Client) *RedisDelegate {
	return &RedisDelegate{client: client}
}

func (d *RedisDelegate) Name() string { return "redis" }

func redisKey(taskType string) string {
	return redisKeyPrefix + taskType
}

func score(priority int, seq int64) float64 {
	return float64(priority)*scoreBand + (scoreBand - float64(seq))
}

// Add takes the next value of the type's sequence counter as the FIFO
// tiebreaker within a priority.
func (d *RedisDelegate) Add(ctx context.Context, e Entry) error {
	seq, err := d.client.Incr(ctx, redisSeqPrefix+e.Type).Result()
	if err != nil {
		return fmt.Errorf("next queue sequence: %w", err)
	}
	return d.client.ZAdd(ctx, redisKey(e.Type), redis.Z{
		Score:  score(e.Priority, seq),
		Member: e.TaskID.String(),
	}).Err()
}

// Get pops with ZPOPMAX, which removes and returns in a single command.
func (d *RedisDelegate) Get(ctx context.Context, taskType string, max int) ([]uuid.UUID, error) {
	zs, err := d.client.ZPopMax(ctx, redisKey(taskType), int64(max)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			return ids, fmt.Errorf("corrupt queue member %q: %w", member, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *RedisDelegate) Drain(ctx context.Context) error {
	iter := d.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return d.client.Del(ctx, keys...).Err()
}
