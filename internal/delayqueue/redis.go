package delayqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The key prefix carries a hash tag so every key of one queue lands on the
// same cluster slot, which the scripts below require.
const keyPrefix = "delayq:{%s}:"

var addScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
  return 1
end
return 0
`)

var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[2], id)
  local raw = redis.call('HGET', KEYS[1], id)
  if raw then
    local job = cjson.decode(raw)
    job['attempts'] = (tonumber(job['attempts']) or 0) + 1
    job['state'] = 'active'
    raw = cjson.encode(job)
    redis.call('HSET', KEYS[1], id, raw)
    redis.call('ZADD', KEYS[3], ARGV[2], id)
    table.insert(out, raw)
  end
end
return out
`)

var recoverScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[3], id)
  local raw = redis.call('HGET', KEYS[1], id)
  if raw then
    local job = cjson.decode(raw)
    job['state'] = 'delayed'
    redis.call('HSET', KEYS[1], id, cjson.encode(job))
    redis.call('ZADD', KEYS[2], ARGV[1], id)
  end
end
return #ids
`)

// RedisStore keeps jobs in one hash and their schedule in three sorted
// sets: delayed (by ReadyAt), active (by lease expiry) and failed.
type RedisStore struct {
	client  redis.UniversalClient
	jobs    string
	delayed string
	active  string
	failed  string
}

func NewRedisStore(client redis.UniversalClient, queue string) *RedisStore {
	prefix := fmt.Sprintf(keyPrefix, queue)
	return &RedisStore{
		client:  client,
		jobs:    prefix + "jobs",
		delayed: prefix + "delayed",
		active:  prefix + "active",
		failed:  prefix + "failed",
	}
}

func (s *RedisStore) keys() []string {
	return []string{s.jobs, s.delayed, s.active, s.failed}
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (s *RedisStore) Add(ctx context.Context, job Job) (bool, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job: %w", err)
	}

	added, err := addScript.Run(ctx, s.client, s.keys(), job.ID, raw, score(job.ReadyAt)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to add job: %w", err)
	}
	return added == 1, nil
}

func (s *RedisStore) Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]Job, error) {
	res, err := claimScript.Run(ctx, s.client, s.keys(), score(now), score(leaseUntil), limit).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	jobs := make([]Job, 0, len(res))
	for _, raw := range res {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return jobs, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *RedisStore) Complete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.active, id)
		pipe.HDel(ctx, s.jobs, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Retry(ctx context.Context, job Job) error {
	job.State = JobDelayed
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.active, job.ID)
		pipe.HSet(ctx, s.jobs, job.ID, raw)
		pipe.ZAdd(ctx, s.delayed, redis.Z{Score: score(job.ReadyAt), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, job Job) error {
	job.State = JobFailed
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.active, job.ID)
		pipe.HSet(ctx, s.jobs, job.ID, raw)
		pipe.ZAdd(ctx, s.failed, redis.Z{Score: score(time.Now()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Recover(ctx context.Context, now time.Time) (int, error) {
	n, err := recoverScript.Run(ctx, s.client, s.keys(), score(now)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to recover jobs: %w", err)
	}
	return n, nil
}

func (s *RedisStore) NextReadyAt(ctx context.Context) (time.Time, bool, error) {
	res, err := s.client.ZRangeWithScores(ctx, s.delayed, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read schedule: %w", err)
	}
	if len(res) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(res[0].Score)), true, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	raw, err := s.client.HGet(ctx, s.jobs, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := s.client.Pipeline()
	delayed := pipe.ZCard(ctx, s.delayed)
	active := pipe.ZCard(ctx, s.active)
	failed := pipe.ZCard(ctx, s.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return Stats{
		Delayed: delayed.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}
