package domain

import "fmt"

// Job is one chunk of a cycle submitted to the broker.
type Job struct {
	ID      string           `json:"id"`
	Address string           `json:"address"`
	Cycle   int              `json:"cycle"`
	Offset  int              `json:"offset"`
	Records []TransferRecord `json:"records"`
}

// JobID derives the deterministic job identity from its offset range.
func JobID(offset, chunkSize int) string {
	return fmt.Sprintf("TXS-%d-%d", offset, offset+chunkSize)
}

// Batch is one flushed cycle handed to the exporters.
type Batch struct {
	RunID   string
	Address string
	Index   int
	Records []EnrichedTransaction
}

// JobResult is a job together with its enriched records.
type JobResult struct {
	Job      Job
	Enriched []EnrichedTransaction
}
