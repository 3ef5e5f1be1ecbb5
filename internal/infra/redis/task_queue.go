package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultScheduleKey = "webhook:retry:schedule"

// popDueScript claims due members atomically so two dispatchers never publish the
// same task.
var popDueScript = goredis.NewScript(`
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
if #items > 0 then
  redis.call("ZREM", KEYS[1], unpack(items))
end
return items
`)

// DelayedTaskQueue keeps retry tasks in a sorted set scored by their due time in
// unix milliseconds. The member is the encoded task, so scheduling the same task
// twice only moves its due time.
type DelayedTaskQueue struct {
	client *goredis.Client
	key    string
	logger *zap.Logger
}

func NewDelayedTaskQueue(client *goredis.Client, key string, logger *zap.Logger) (*DelayedTaskQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		key = DefaultScheduleKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DelayedTaskQueue{client: client, key: key, logger: logger}, nil
}

func (q *DelayedTaskQueue) Schedule(ctx context.Context, task domain.RetryTask, runAt time.Time) error {
	if err := task.Validate(); err != nil {
		return err
	}

	member, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode retry task: %w", err)
	}

	err = q.client.ZAdd(ctx, q.key, goredis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule retry task: %w", err)
	}
	return nil
}

// PopDue removes and returns up to limit tasks due at or before now.
func (q *DelayedTaskQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	members, err := popDueScript.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to pop due retry tasks: %w", err)
	}

	tasks := make([]domain.RetryTask, 0, len(members))
	for _, member := range members {
		var task domain.RetryTask
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			q.logger.Error("Dropping undecodable retry task", zap.String("member", member), zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (q *DelayedTaskQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
