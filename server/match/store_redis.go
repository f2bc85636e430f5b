package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

const dupReplyPrefix = "DUPMATCH"

// KEYS: matches hash, tickets hash. ARGV: match id, payload, tickets...
var addMatchScript = redis.NewScript(`
for i = 3, #ARGV do
	local other = redis.call('HGET', KEYS[2], ARGV[i])
	if other then
		return redis.error_reply('DUPMATCH ticket ' .. ARGV[i] .. ' already in match ' .. other)
	end
end
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return redis.error_reply('DUPMATCH match ' .. ARGV[1] .. ' already stored')
end
for i = 3, #ARGV do
	redis.call('HSET', KEYS[2], ARGV[i], ARGV[1])
end
return 1
`)

type RedisStore struct {
	rds        redis.UniversalClient
	matchesKey string
	ticketsKey string
}

func NewRedisStore(rds redis.UniversalClient, prefix string) *RedisStore {
	tag := fmt.Sprintf("%s/{store}", prefix)
	return &RedisStore{
		rds:        rds,
		matchesKey: tag + "/matches",
		ticketsKey: tag + "/tickets",
	}
}

func (s *RedisStore) AddMatch(ctx context.Context, m *Match) error {
	if err := m.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}

	args := []interface{}{m.ID, payload}
	for _, t := range m.Tickets() {
		args = append(args, t)
	}

	err = addMatchScript.Run(ctx, s.rds, []string{s.matchesKey, s.ticketsKey}, args...).Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), dupReplyPrefix) {
		return xerr.Wrap(xerr.CodeDuplicateTicket, err, "redis add match")
	}
	return xerr.Wrap(xerr.CodeBackend, err, "redis add match")
}

func (s *RedisStore) GetMatch(ctx context.Context, matchID string) (*Match, bool, error) {
	raw, err := s.rds.HGet(ctx, s.matchesKey, matchID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "redis get match")
	}
	m := &Match{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "decode match "+matchID)
	}
	return m, true, nil
}

func (s *RedisStore) GetMatchByTicket(ctx context.Context, ticket string) (*Match, bool, error) {
	matchID, err := s.rds.HGet(ctx, s.ticketsKey, ticket).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "redis get ticket")
	}
	// a concurrent RemoveMatch may have won between the two reads
	return s.GetMatch(ctx, matchID)
}

func (s *RedisStore) RemoveMatch(ctx context.Context, matchID string) (*Match, bool, error) {
	m, has, err := s.GetMatch(ctx, matchID)
	if err != nil || !has {
		return nil, false, err
	}

	_, err = s.rds.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.matchesKey, matchID)
		pipe.HDel(ctx, s.ticketsKey, m.Tickets()...)
		return nil
	})
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "redis remove match")
	}
	return m, true, nil
}
