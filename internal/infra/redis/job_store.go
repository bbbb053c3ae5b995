package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txexport/internal/infra/queue"
)

// JobStore is a durable queue.Store.
//
// Layout per queue name:
//   - jobs:    hash of id -> envelope JSON
//   - wait:    list of ready ids (LPUSH / BRPOP)
//   - delayed: sorted set of ids scored by retry time in unix ms
//   - active:  set of ids not yet acked or released, used for dedup
type JobStore struct {
	client *Client
	queue  string
	closed atomic.Bool
}

var _ queue.Store = (*JobStore)(nil)

// NewJobStore creates a store for the named queue on client.
func NewJobStore(client *Client, queueName string) *JobStore {
	return &JobStore{client: client, queue: queueName}
}

func (s *JobStore) Enqueue(ctx context.Context, envs []queue.Envelope) ([]string, error) {
	if s.closed.Load() {
		return nil, queue.ErrClosed
	}
	rdb := s.client.rdb

	accepted := make([]string, 0, len(envs))
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return accepted, fmt.Errorf("marshal job %s: %w", env.Job.ID, err)
		}

		added, err := rdb.SAdd(ctx, s.client.key(s.queue, "active"), env.Job.ID).Result()
		if err != nil {
			return accepted, fmt.Errorf("sadd failed: %w", err)
		}
		if added == 0 {
			continue // still active
		}

		_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.client.key(s.queue, "jobs"), env.Job.ID, data)
			pipe.LPush(ctx, s.client.key(s.queue, "wait"), env.Job.ID)
			return nil
		})
		if err != nil {
			_ = rdb.SRem(ctx, s.client.key(s.queue, "active"), env.Job.ID).Err()
			return accepted, fmt.Errorf("enqueue %s failed: %w", env.Job.ID, err)
		}
		accepted = append(accepted, env.Job.ID)
	}
	return accepted, nil
}

func (s *JobStore) Dequeue(ctx context.Context, wait time.Duration) (*queue.Envelope, error) {
	if s.closed.Load() {
		return nil, queue.ErrClosed
	}
	rdb := s.client.rdb

	if err := s.promote(ctx); err != nil {
		return nil, err
	}

	if wait < time.Second {
		wait = time.Second
	}
	res, err := rdb.BRPop(ctx, wait, s.client.key(s.queue, "wait")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if s.closed.Load() {
			return nil, queue.ErrClosed
		}
		return nil, fmt.Errorf("brpop failed: %w", err)
	}
	// res is [key, value]
	id := res[1]

	data, err := rdb.HGet(ctx, s.client.key(s.queue, "jobs"), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // drained while waiting
	}
	if err != nil {
		return nil, fmt.Errorf("hget failed: %w", err)
	}

	var env queue.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid job %s: %w", id, err)
	}
	return &env, nil
}

// promote moves due delayed ids onto the wait list. ZREM decides which
// consumer wins when several promote concurrently.
func (s *JobStore) promote(ctx context.Context) error {
	rdb := s.client.rdb
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	ids, err := rdb.ZRangeByScore(ctx, s.client.key(s.queue, "delayed"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore failed: %w", err)
	}
	for _, id := range ids {
		removed, err := rdb.ZRem(ctx, s.client.key(s.queue, "delayed"), id).Result()
		if err != nil {
			return fmt.Errorf("zrem failed: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := rdb.LPush(ctx, s.client.key(s.queue, "wait"), id).Err(); err != nil {
			return fmt.Errorf("lpush failed: %w", err)
		}
	}
	return nil
}

func (s *JobStore) Schedule(ctx context.Context, env queue.Envelope, at time.Time) error {
	if s.closed.Load() {
		return queue.ErrClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", env.Job.ID, err)
	}

	_, err = s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.client.key(s.queue, "jobs"), env.Job.ID, data)
		pipe.ZAdd(ctx, s.client.key(s.queue, "delayed"), redis.Z{Score: float64(at.UnixMilli()), Member: env.Job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule %s failed: %w", env.Job.ID, err)
	}
	return nil
}

func (s *JobStore) Ack(ctx context.Context, id string) error {
	return s.forget(ctx, id)
}

func (s *JobStore) Release(ctx context.Context, id string) error {
	return s.forget(ctx, id)
}

func (s *JobStore) forget(ctx context.Context, id string) error {
	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.client.key(s.queue, "active"), id)
		pipe.HDel(ctx, s.client.key(s.queue, "jobs"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("release %s failed: %w", id, err)
	}
	return nil
}

func (s *JobStore) Drain(ctx context.Context) error {
	err := s.client.rdb.Del(ctx,
		s.client.key(s.queue, "wait"),
		s.client.key(s.queue, "delayed"),
		s.client.key(s.queue, "jobs"),
		s.client.key(s.queue, "active"),
	).Err()
	if err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}
	return nil
}

// Close marks the store closed. The connection belongs to Client.
func (s *JobStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Len returns the number of waiting and delayed jobs.
func (s *JobStore) Len(ctx context.Context) (int64, error) {
	waiting, err := s.client.rdb.LLen(ctx, s.client.key(s.queue, "wait")).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := s.client.rdb.ZCard(ctx, s.client.key(s.queue, "delayed")).Result()
	if err != nil {
		return 0, err
	}
	return waiting + delayed, nil
}
