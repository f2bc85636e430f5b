package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

// The list holds tickets in FIFO order and the index hash maps ticket to the
// participant payload. Every mutation touches both keys in one script.
var (
	enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

	dequeueScript = redis.NewScript(`
local t = redis.call('LPOP', KEYS[1])
if not t then
	return false
end
local v = redis.call('HGET', KEYS[2], t)
if not v then
	return redis.error_reply('queue index lost ticket ' .. t)
end
redis.call('HDEL', KEYS[2], t)
return v
`)

	pushFrontScript = redis.NewScript(`
local n = 0
for i = #ARGV - 1, 1, -2 do
	if redis.call('HSETNX', KEYS[2], ARGV[i], ARGV[i + 1]) == 1 then
		redis.call('LPUSH', KEYS[1], ARGV[i])
		n = n + 1
	end
end
return n
`)
)

// RedisQueue is the Queue shared by every process pointing at the same redis.
type RedisQueue struct {
	rds      redis.UniversalClient
	listKey  string
	indexKey string
}

func NewRedisQueue(rds redis.UniversalClient, prefix string, role Role) *RedisQueue {
	// both keys carry the same hash tag so scripts stay on one cluster slot
	tag := fmt.Sprintf("%s/queue/{%s}", prefix, role)
	return &RedisQueue{
		rds:      rds,
		listKey:  tag + "/list",
		indexKey: tag + "/index",
	}
}

func (q *RedisQueue) keys() []string {
	return []string{q.listKey, q.indexKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, p Participant) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	added, err := enqueueScript.Run(ctx, q.rds, q.keys(), p.TicketID, payload).Int()
	if err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "redis enqueue")
	}
	if added == 0 {
		return xerr.Newf(xerr.CodeDuplicateTicket, "ticket %s already queued", p.TicketID)
	}
	return nil
}

func (q *RedisQueue) Contains(ctx context.Context, ticket string) (bool, error) {
	has, err := q.rds.HExists(ctx, q.indexKey, ticket).Result()
	if err != nil {
		return false, xerr.Wrap(xerr.CodeBackend, err, "redis queue contains")
	}
	return has, nil
}

func (q *RedisQueue) Position(ctx context.Context, ticket string) (int, bool, error) {
	i, err := q.rds.LPos(ctx, q.listKey, ticket, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, xerr.Wrap(xerr.CodeBackend, err, "redis queue position")
	}
	return int(i) + 1, true, nil
}

func (q *RedisQueue) Count(ctx context.Context) (int, error) {
	n, err := q.rds.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0, xerr.Wrap(xerr.CodeBackend, err, "redis queue count")
	}
	return int(n), nil
}

func (q *RedisQueue) TryDequeue(ctx context.Context) (Participant, bool, error) {
	raw, err := dequeueScript.Run(ctx, q.rds, q.keys()).Text()
	if errors.Is(err, redis.Nil) {
		return Participant{}, false, nil
	}
	if err != nil {
		return Participant{}, false, xerr.Wrap(xerr.CodeBackend, err, "redis dequeue")
	}

	var p Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// already popped: surface loudly, the payload is in the error
		return Participant{}, false, xerr.Wrap(xerr.CodeInvariantViolation, err, "undecodable queue entry "+raw)
	}
	return p, true, nil
}

func (q *RedisQueue) PushFront(ctx context.Context, ps ...Participant) error {
	if len(ps) == 0 {
		return nil
	}
	args := make([]interface{}, 0, 2*len(ps))
	for _, p := range ps {
		payload, err := json.Marshal(p)
		if err != nil {
			return err
		}
		args = append(args, p.TicketID, payload)
	}
	if err := pushFrontScript.Run(ctx, q.rds, q.keys(), args...).Err(); err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "redis push front")
	}
	return nil
}
