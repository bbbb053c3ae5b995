package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type delayedEnvelope struct {
	env Envelope
	at  time.Time
}

// MemoryStore is an in-process Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ready   []Envelope
	delayed []delayedEnvelope
	active  map[string]struct{}
	notify  chan struct{}
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active: make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, envs []Envelope) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	accepted := make([]string, 0, len(envs))
	for _, env := range envs {
		if _, ok := s.active[env.Job.ID]; ok {
			continue
		}
		s.active[env.Job.ID] = struct{}{}
		s.ready = append(s.ready, env)
		accepted = append(accepted, env.Job.ID)
	}
	s.wake()
	return accepted, nil
}

func (s *MemoryStore) Dequeue(ctx context.Context, wait time.Duration) (*Envelope, error) {
	deadline := time.Now().Add(wait)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		now := time.Now()
		s.promoteLocked(now)
		if len(s.ready) > 0 {
			env := s.ready[0]
			s.ready = s.ready[1:]
			if len(s.ready) > 0 {
				s.wake() // hand the next one to another waiting worker
			}
			s.mu.Unlock()
			return &env, nil
		}
		sleep := deadline.Sub(now)
		if len(s.delayed) > 0 {
			if d := s.delayed[0].at.Sub(now); d < sleep {
				sleep = d
			}
		}
		s.mu.Unlock()

		if sleep <= 0 && !now.Before(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *MemoryStore) Schedule(ctx context.Context, env Envelope, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.delayed = append(s.delayed, delayedEnvelope{env: env, at: at})
	sort.SliceStable(s.delayed, func(i, j int) bool { return s.delayed[i].at.Before(s.delayed[j].at) })
	s.wake()
	return nil
}

func (s *MemoryStore) Ack(ctx context.Context, id string) error {
	return s.Release(ctx, id)
}

func (s *MemoryStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	return nil
}

func (s *MemoryStore) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = nil
	s.delayed = nil
	s.active = make(map[string]struct{})
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.notify)
	}
	return nil
}

// Len returns the number of waiting and delayed envelopes.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) + len(s.delayed)
}

func (s *MemoryStore) promoteLocked(now time.Time) {
	i := 0
	for i < len(s.delayed) && !s.delayed[i].at.After(now) {
		s.ready = append(s.ready, s.delayed[i].env)
		i++
	}
	s.delayed = s.delayed[i:]
}

func (s *MemoryStore) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
