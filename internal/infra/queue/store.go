package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/txexport/internal/core/domain"
)

var (
	// ErrClosed is returned by operations on a closed queue or store.
	ErrClosed = errors.New("queue closed")
	// ErrDuplicate is returned when a job id is still active.
	ErrDuplicate = errors.New("duplicate job")
)

// Envelope is a job plus its delivery bookkeeping.
type Envelope struct {
	Job domain.Job `json:"job"`
	// Attempt is the number of deliveries already made
	Attempt int `json:"attempt"`
}

// Store persists waiting, delayed and active jobs.
type Store interface {
	// Enqueue adds envelopes whose ids are not active and returns the accepted ids
	Enqueue(ctx context.Context, envs []Envelope) ([]string, error)

	// Dequeue blocks up to wait for a ready envelope; (nil, nil) on timeout
	Dequeue(ctx context.Context, wait time.Duration) (*Envelope, error)

	// Schedule makes env ready again at the given time
	Schedule(ctx context.Context, env Envelope, at time.Time) error

	// Ack releases the id of a completed job
	Ack(ctx context.Context, id string) error

	// Release releases the id of a permanently failed job
	Release(ctx context.Context, id string) error

	// Drain drops every waiting, delayed and active job
	Drain(ctx context.Context) error

	// Close stops the store; blocked Dequeue calls return ErrClosed
	Close() error
}
