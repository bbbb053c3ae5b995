// Package dispatcher splits a cycle into enrichment jobs, tracks their
// completion and flushes the aggregated results to the exporter.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/export"
	"github.com/vietddude/txexport/internal/exporting/metrics"
)

var (
	// ErrCycleInProgress is returned when a cycle is submitted while one is processing.
	ErrCycleInProgress = errors.New("cycle in progress")
	// ErrJobFailed resolves a cycle in which a job exhausted its retries.
	ErrJobFailed = errors.New("job failed permanently")
	// ErrDrained resolves a cycle that was flushed by shutdown.
	ErrDrained = errors.New("cycle drained")
)

// DefaultChunkSize is the number of records per job.
const DefaultChunkSize = 50

// Submitter is the broker side of the dispatcher.
type Submitter interface {
	Submit(ctx context.Context, jobs []domain.Job) ([]string, error)
}

// Stats is a point-in-time copy of the dispatcher counters. JobsCreated and
// JobsCompleted describe the current cycle and reset after a flush;
// JobsSubmitted and JobsCompletedTotal count the whole run.
type Stats struct {
	Cycle              int  `json:"cycle"`
	Processing         bool `json:"processing"`
	JobsCreated        int  `json:"jobs_created"`
	JobsCompleted      int  `json:"jobs_completed"`
	JobsFailed         int  `json:"jobs_failed"`
	JobsSubmitted      int  `json:"jobs_submitted"`
	JobsCompletedTotal int  `json:"jobs_completed_total"`
	Pending            int  `json:"pending"`
	BufferedRecords    int  `json:"buffered_records"`
	Batches            int  `json:"batches"`
	RecordsExported    int  `json:"records_exported"`
}

// Dispatcher owns all cycle state. One mutex guards every field below it;
// completion counting and the flush happen inside the same critical section.
type Dispatcher struct {
	submitter Submitter
	exporter  export.Exporter
	chunkSize int
	runID     string
	log       *slog.Logger

	mu                 sync.Mutex
	address            string
	cycle              int
	processing         bool
	jobsCreated        int
	jobsCompleted      int
	jobsFailed         int
	jobsSubmitted      int
	jobsCompletedTotal int
	pending            map[string]struct{}
	results            map[int][]domain.EnrichedTransaction // by job offset
	batch              int
	recordsExported    int
	done               chan error
	resolved           bool
	startedAt          time.Time
}

// New creates a dispatcher. runID tags every exported batch.
func New(submitter Submitter, exporter export.Exporter, chunkSize int, runID string) *Dispatcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Dispatcher{
		submitter: submitter,
		exporter:  exporter,
		chunkSize: chunkSize,
		runID:     runID,
		pending:   make(map[string]struct{}),
		results:   make(map[int][]domain.EnrichedTransaction),
		log:       slog.Default().With("component", "dispatcher"),
	}
}

// SubmitCycle splits records into jobs and submits them as one cycle.
// The returned channel receives exactly one value when the cycle is
// flushed (nil), fails, or is drained. Empty records resolve immediately.
func (d *Dispatcher) SubmitCycle(ctx context.Context, address string, records []domain.TransferRecord) (<-chan error, error) {
	if len(records) == 0 {
		done := make(chan error, 1)
		done <- nil
		return done, nil
	}

	d.mu.Lock()
	if d.processing {
		d.mu.Unlock()
		return nil, ErrCycleInProgress
	}

	d.cycle++
	cycle := d.cycle
	d.address = address
	d.processing = true
	d.jobsCompleted = 0
	d.jobsFailed = 0
	d.done = make(chan error, 1)
	d.resolved = false
	d.startedAt = time.Now()

	jobs := make([]domain.Job, 0, (len(records)+d.chunkSize-1)/d.chunkSize)
	for offset := 0; offset < len(records); offset += d.chunkSize {
		end := min(offset+d.chunkSize, len(records))
		job := domain.Job{
			ID:      domain.JobID(offset, d.chunkSize),
			Address: address,
			Cycle:   cycle,
			Offset:  offset,
			Records: records[offset:end],
		}
		jobs = append(jobs, job)
		d.pending[job.ID] = struct{}{}
	}
	// Counted before submission so an early completion cannot match a partial total.
	d.jobsCreated = len(jobs)
	d.jobsSubmitted += len(jobs)
	done := d.done
	d.mu.Unlock()

	d.log.Info("Submitting cycle", "address", address, "cycle", cycle, "records", len(records), "jobs", len(jobs))

	accepted, err := d.submitter.Submit(ctx, jobs)
	metrics.JobsSubmitted.Add(float64(len(accepted)))
	if err == nil && len(accepted) == len(jobs) {
		return done, nil
	}
	if err == nil {
		err = fmt.Errorf("%d of %d jobs not accepted", len(jobs)-len(accepted), len(jobs))
	}

	d.mu.Lock()
	if d.cycle == cycle && d.processing {
		ok := make(map[string]struct{}, len(accepted))
		for _, id := range accepted {
			ok[id] = struct{}{}
		}
		for _, job := range jobs {
			if _, isAccepted := ok[job.ID]; isAccepted {
				continue
			}
			if _, isPending := d.pending[job.ID]; isPending {
				delete(d.pending, job.ID)
				d.jobsCreated--
				d.jobsSubmitted--
			}
		}
		if d.jobsCompleted == d.jobsCreated && !d.resolved {
			_ = d.flushLocked(ctx)
		}
	}
	d.mu.Unlock()

	d.log.Error("Cycle submission incomplete", "cycle", cycle, "accepted", len(accepted), "jobs", len(jobs), "error", err)
	return done, fmt.Errorf("submit cycle %d: %w", cycle, err)
}

// OnCompleted records a finished job and flushes when it was the last one.
// Stale or duplicate deliveries are ignored.
func (d *Dispatcher) OnCompleted(ctx context.Context, res domain.JobResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job := res.Job
	if !d.processing || job.Cycle != d.cycle {
		d.log.Debug("Ignoring stale completion", "job", job.ID, "cycle", job.Cycle, "current", d.cycle)
		return
	}
	if _, ok := d.pending[job.ID]; !ok {
		d.log.Debug("Ignoring duplicate completion", "job", job.ID, "cycle", job.Cycle)
		return
	}

	delete(d.pending, job.ID)
	d.results[job.Offset] = res.Enriched
	d.jobsCompleted++
	d.jobsCompletedTotal++
	metrics.JobsCompleted.Inc()

	d.log.Debug("Job completed",
		"job", job.ID,
		"cycle", job.Cycle,
		"completed", d.jobsCompleted,
		"created", d.jobsCreated,
	)

	if d.jobsCompleted == d.jobsCreated && !d.resolved {
		_ = d.flushLocked(ctx)
	}
}

// OnFailed records a failed attempt. A final failure resolves the cycle
// with ErrJobFailed; results gathered so far stay buffered for Drain.
func (d *Dispatcher) OnFailed(ctx context.Context, job domain.Job, err error, final bool) {
	metrics.JobsFailed.WithLabelValues(fmt.Sprint(final)).Inc()
	if !final {
		d.log.Warn("Job attempt failed", "job", job.ID, "cycle", job.Cycle, "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Error("Job failed permanently", "job", job.ID, "cycle", job.Cycle, "error", err)
	if !d.processing || job.Cycle != d.cycle {
		return
	}
	if _, ok := d.pending[job.ID]; !ok {
		return
	}
	delete(d.pending, job.ID)
	d.jobsFailed++
	d.resolveLocked(fmt.Errorf("%w: %s: %v", ErrJobFailed, job.ID, err))
}

// Drain flushes a processing cycle's buffered results once. It is used
// by shutdown; a cycle without results is closed without an export.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.processing {
		return nil
	}
	d.resolveLocked(ErrDrained)
	if d.bufferedLocked() == 0 {
		d.resetLocked()
		return nil
	}
	d.log.Info("Draining buffered results", "cycle", d.cycle, "records", d.bufferedLocked())
	return d.flushLocked(ctx)
}

// Snapshot returns a copy of the counters.
func (d *Dispatcher) Snapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Cycle:              d.cycle,
		Processing:         d.processing,
		JobsCreated:        d.jobsCreated,
		JobsCompleted:      d.jobsCompleted,
		JobsFailed:         d.jobsFailed,
		JobsSubmitted:      d.jobsSubmitted,
		JobsCompletedTotal: d.jobsCompletedTotal,
		Pending:            len(d.pending),
		BufferedRecords:    d.bufferedLocked(),
		Batches:            d.batch,
		RecordsExported:    d.recordsExported,
	}
}

// flushLocked exports buffered results as the next batch. On export error
// the results are kept so a later Drain can retry.
func (d *Dispatcher) flushLocked(ctx context.Context) error {
	records := d.collectLocked()
	if len(records) == 0 {
		d.resetLocked()
		d.resolveLocked(nil)
		return nil
	}

	batch := domain.Batch{
		RunID:   d.runID,
		Address: d.address,
		Index:   d.batch + 1,
		Records: records,
	}
	if err := d.exporter.Export(ctx, batch); err != nil {
		metrics.ExportErrors.Inc()
		d.log.Error("Export failed", "cycle", d.cycle, "batch", batch.Index, "records", len(records), "error", err)
		err = fmt.Errorf("export batch %d: %w", batch.Index, err)
		d.resolveLocked(err)
		return err
	}

	d.batch = batch.Index
	d.recordsExported += len(records)
	metrics.BatchesExported.Inc()
	metrics.RecordsExported.Add(float64(len(records)))
	metrics.CycleDuration.Observe(time.Since(d.startedAt).Seconds())
	d.log.Info("Cycle flushed", "cycle", d.cycle, "batch", batch.Index, "records", len(records))

	d.resetLocked()
	d.resolveLocked(nil)
	return nil
}

// collectLocked returns buffered results ordered by job offset.
func (d *Dispatcher) collectLocked() []domain.EnrichedTransaction {
	offsets := make([]int, 0, len(d.results))
	for off := range d.results {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	records := make([]domain.EnrichedTransaction, 0, d.bufferedLocked())
	for _, off := range offsets {
		records = append(records, d.results[off]...)
	}
	return records
}

func (d *Dispatcher) bufferedLocked() int {
	n := 0
	for _, r := range d.results {
		n += len(r)
	}
	return n
}

func (d *Dispatcher) resetLocked() {
	d.processing = false
	d.jobsCreated = 0
	d.jobsCompleted = 0
	d.pending = make(map[string]struct{})
	d.results = make(map[int][]domain.EnrichedTransaction)
}

// resolveLocked delivers the cycle outcome once.
func (d *Dispatcher) resolveLocked(err error) {
	if d.resolved || d.done == nil {
		return
	}
	d.resolved = true
	d.done <- err
}
