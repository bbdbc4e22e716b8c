// Package queue is the Redis-backed dispatch task queue.
//
// A task lives in four places over its life: the payload hash, the delayed
// sorted set (scored by run time), the ready list, and the in-flight sorted
// set (scored by lease deadline). Delivery is at least once: a worker that
// dies mid-task loses its lease and Recover hands the task out again, until
// the delivery budget is spent and the task moves to the dead list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/tinymail/internal/domain"
)

var (
	// ErrEmpty is returned by Claim when no task is ready.
	ErrEmpty = errors.New("queue empty")
	// ErrNotFound is returned for a task id the queue does not hold.
	ErrNotFound = errors.New("task not found")
)

const promoteLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
    redis.call("ZREM", KEYS[1], id)
    redis.call("RPUSH", KEYS[2], id)
end
return #ids
`

// ids whose payload was deleted while queued are dropped on the way out
const claimLuaScript = `
while true do
    local id = redis.call("LPOP", KEYS[1])
    if not id then
        return false
    end
    local payload = redis.call("HGET", KEYS[3], id)
    if payload then
        redis.call("ZADD", KEYS[2], ARGV[1], id)
        local n = redis.call("HINCRBY", KEYS[4], id, 1)
        return {payload, n}
    end
end
`

const rescheduleLuaScript = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
redis.call("HDEL", KEYS[4], ARGV[1])
return 1
`

const recoverLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local requeued, dead = 0, 0
for _, id in ipairs(ids) do
    redis.call("ZREM", KEYS[1], id)
    local n = tonumber(redis.call("HGET", KEYS[3], id) or "0")
    if n >= tonumber(ARGV[2]) then
        redis.call("RPUSH", KEYS[4], id)
        redis.call("HDEL", KEYS[3], id)
        dead = dead + 1
    else
        redis.call("RPUSH", KEYS[2], id)
        requeued = requeued + 1
    end
end
return {requeued, dead}
`

// Claimed is a task handed to a worker together with how many times it
// has been handed out, this time included.
type Claimed struct {
	Task       domain.DispatchTask
	Deliveries int
}

// Depth is a snapshot of queue sizes.
type Depth struct {
	Ready    int64 `json:"ready"`
	Delayed  int64 `json:"delayed"`
	InFlight int64 `json:"in_flight"`
	Dead     int64 `json:"dead"`
}

// RedisQueue implements the task queue on a single Redis instance.
type RedisQueue struct {
	redis *redis.Client

	tasks      string
	delayed    string
	ready      string
	inflight   string
	deliveries string
	dead       string

	promoteScript    *redis.Script
	claimScript      *redis.Script
	rescheduleScript *redis.Script
	recoverScript    *redis.Script

	now func() time.Time
}

// NewRedisQueue creates a queue whose keys share prefix.
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "tinymail"
	}
	key := func(s string) string { return prefix + ":queue:" + s }
	return &RedisQueue{
		redis:            client,
		tasks:            key("tasks"),
		delayed:          key("delayed"),
		ready:            key("ready"),
		inflight:         key("inflight"),
		deliveries:       key("deliveries"),
		dead:             key("dead"),
		promoteScript:    redis.NewScript(promoteLuaScript),
		claimScript:      redis.NewScript(claimLuaScript),
		rescheduleScript: redis.NewScript(rescheduleLuaScript),
		recoverScript:    redis.NewScript(recoverLuaScript),
		now:              time.Now,
	}
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// Enqueue stores the task. A runAt in the past or present makes it ready
// immediately; otherwise it waits in the delayed set.
func (q *RedisQueue) Enqueue(ctx context.Context, task *domain.DispatchTask, runAt time.Time) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = q.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.tasks, task.ID, payload)
		if runAt.After(q.now()) {
			p.ZAdd(ctx, q.delayed, redis.Z{Score: score(runAt), Member: task.ID})
		} else {
			p.RPush(ctx, q.ready, task.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Promote moves up to limit due tasks from the delayed set to the ready
// list and reports how many moved.
func (q *RedisQueue) Promote(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	n, err := q.promoteScript.Run(ctx, q.redis, []string{q.delayed, q.ready}, score(now), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("promote: %w", err)
	}
	return n, nil
}

// Claim pops the next ready task and leases it until now+lease. It returns
// ErrEmpty when nothing is ready.
func (q *RedisQueue) Claim(ctx context.Context, lease time.Duration) (*Claimed, error) {
	res, err := q.claimScript.Run(ctx, q.redis,
		[]string{q.ready, q.inflight, q.tasks, q.deliveries},
		score(q.now().Add(lease)),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claim: unexpected reply %v", res)
	}

	payload, _ := res[0].(string)
	deliveries, _ := res[1].(int64)
	c := &Claimed{Deliveries: int(deliveries)}
	if err := json.Unmarshal([]byte(payload), &c.Task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return c, nil
}

// Ack removes a finished task.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	_, err := q.remove(ctx, id)
	return err
}

// Reschedule stores the updated task and moves it from in-flight back to
// the delayed set. It returns ErrNotFound when the task was deleted while
// it was being worked on.
func (q *RedisQueue) Reschedule(ctx context.Context, task *domain.DispatchTask, runAt time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	ok, err := q.rescheduleScript.Run(ctx, q.redis,
		[]string{q.tasks, q.inflight, q.delayed, q.deliveries},
		task.ID, payload, score(runAt),
	).Int()
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", task.ID, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// Recover returns tasks whose lease expired before now to the ready list.
// A task already handed out maxDeliveries times goes to the dead list.
func (q *RedisQueue) Recover(ctx context.Context, now time.Time, maxDeliveries int) (requeued, dead int, err error) {
	res, err := q.recoverScript.Run(ctx, q.redis,
		[]string{q.inflight, q.ready, q.deliveries, q.dead},
		score(now), maxDeliveries,
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("recover: %w", err)
	}
	return int(res[0]), int(res[1]), nil
}

// Delete cancels a task wherever it is. A worker currently holding it
// still finishes, but cannot reschedule it.
func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	existed, err := q.remove(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}

func (q *RedisQueue) remove(ctx context.Context, id string) (bool, error) {
	var hdel *redis.IntCmd
	_, err := q.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		hdel = p.HDel(ctx, q.tasks, id)
		p.HDel(ctx, q.deliveries, id)
		p.ZRem(ctx, q.delayed, id)
		p.ZRem(ctx, q.inflight, id)
		p.LRem(ctx, q.ready, 0, id)
		p.LRem(ctx, q.dead, 0, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove task %s: %w", id, err)
	}
	return hdel.Val() > 0, nil
}

// Depth reports the size of each queue state.
func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	var d Depth
	cmds, err := q.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LLen(ctx, q.ready)
		p.ZCard(ctx, q.delayed)
		p.ZCard(ctx, q.inflight)
		p.LLen(ctx, q.dead)
		return nil
	})
	if err != nil {
		return d, fmt.Errorf("queue depth: %w", err)
	}
	d.Ready = cmds[0].(*redis.IntCmd).Val()
	d.Delayed = cmds[1].(*redis.IntCmd).Val()
	d.InFlight = cmds[2].(*redis.IntCmd).Val()
	d.Dead = cmds[3].(*redis.IntCmd).Val()
	return d, nil
}
