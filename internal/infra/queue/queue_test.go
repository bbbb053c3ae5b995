package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/core/domain"
)

func testOptions() Options {
	return Options{
		Workers:      3,
		Backoff:      backoff.Exponential{InitialDelay: time.Millisecond, MaxAttempts: 3},
		PollInterval: 10 * time.Millisecond,
	}
}

func makeJobs(n int) []domain.Job {
	jobs := make([]domain.Job, n)
	for i := range jobs {
		jobs[i] = domain.Job{
			ID:      domain.JobID(i*50, 50),
			Address: "0xabc",
			Records: []domain.TransferRecord{{Hash: fmt.Sprintf("0x%02x", i)}},
		}
	}
	return jobs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueue_ProcessesAllJobs(t *testing.T) {
	var completed atomic.Int32
	q := New("test", NewMemoryStore(), func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
		return []domain.EnrichedTransaction{domain.Enrich(job.Records[0], nil)}, nil
	}, testOptions())
	q.OnComplete(func(ctx context.Context, res domain.JobResult) {
		if len(res.Enriched) != 1 {
			t.Errorf("job %s: %d results", res.Job.ID, len(res.Enriched))
		}
		completed.Add(1)
	})
	q.Start(context.Background())
	defer q.Close()

	accepted, err := q.Submit(context.Background(), makeJobs(30))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(accepted) != 30 {
		t.Fatalf("accepted %d, want 30", len(accepted))
	}

	waitFor(t, func() bool { return completed.Load() == 30 })
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var failures []bool

	q := New("test", NewMemoryStore(), func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}, testOptions())
	done := make(chan struct{})
	q.OnComplete(func(ctx context.Context, res domain.JobResult) { close(done) })
	q.OnFailed(func(ctx context.Context, job domain.Job, err error, final bool) {
		mu.Lock()
		failures = append(failures, final)
		mu.Unlock()
	})
	q.Start(context.Background())
	defer q.Close()

	if _, err := q.Submit(context.Background(), makeJobs(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 2 || failures[0] || failures[1] {
		t.Errorf("expected two non-final failures, got %v", failures)
	}
}

func TestQueue_FinalFailure(t *testing.T) {
	var calls atomic.Int32
	final := make(chan error, 1)

	q := New("test", NewMemoryStore(), func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
		calls.Add(1)
		panic("boom")
	}, testOptions())
	q.OnFailed(func(ctx context.Context, job domain.Job, err error, isFinal bool) {
		if isFinal {
			final <- err
		}
	})
	q.Start(context.Background())
	defer q.Close()

	if _, err := q.Submit(context.Background(), makeJobs(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case err := <-final:
		if err == nil {
			t.Error("expected handler error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no final failure")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler called %d times, want 3", got)
	}

	// The id is released, so the same job can be submitted again.
	if _, err := q.Submit(context.Background(), makeJobs(1)); err != nil {
		t.Errorf("resubmit after final failure: %v", err)
	}
}

func TestQueue_DuplicateRejected(t *testing.T) {
	store := NewMemoryStore()
	q := New("test", store, func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
		return nil, nil
	}, testOptions())
	// Not started: jobs stay active.

	jobs := makeJobs(2)
	if _, err := q.Submit(context.Background(), jobs[:1]); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	accepted, err := q.Submit(context.Background(), jobs)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(accepted) != 1 || accepted[0] != jobs[1].ID {
		t.Errorf("accepted = %v", accepted)
	}

	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("store not drained: %d", store.Len())
	}
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := New("test", NewMemoryStore(), func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
		return nil, nil
	}, testOptions())
	q.Start(context.Background())

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := q.Submit(context.Background(), makeJobs(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: %v", err)
	}
}

func TestQueue_CloseWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	q := New("test", NewMemoryStore(), func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			t.Error("handler context cancelled by Close")
		}
		finished.Store(true)
		return nil, nil
	}, testOptions())
	q.Start(context.Background())

	if _, err := q.Submit(context.Background(), makeJobs(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	closed := make(chan struct{})
	go func() {
		_ = q.Close()
		close(closed)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-closed
	if !finished.Load() {
		t.Error("Close returned before in-flight job finished")
	}
}

func TestMemoryStore_DelayedPromotion(t *testing.T) {
	s := NewMemoryStore()
	env := Envelope{Job: domain.Job{ID: "TXS-0-50"}, Attempt: 1}
	if err := s.Schedule(context.Background(), env, time.Now().Add(30*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	got, err := s.Dequeue(context.Background(), 5*time.Millisecond)
	if err != nil || got != nil {
		t.Fatalf("expected nothing ready yet, got %v, %v", got, err)
	}

	got, err = s.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.Job.ID != "TXS-0-50" || got.Attempt != 1 {
		t.Errorf("unexpected envelope %+v", got)
	}

	_ = s.Close()
	if _, err := s.Dequeue(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Dequeue after Close: %v", err)
	}
}
