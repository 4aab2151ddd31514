package model

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// SourceStatus is the outcome of one source within a run.
type SourceStatus string

const (
	SourceIngested SourceStatus = "ingested"
	SourceSkipped  SourceStatus = "skipped"
	SourceMissing  SourceStatus = "missing"
	SourceFailed   SourceStatus = "failed"
)

// SourceReport accounts for every raw record read from one source file.
// Read == Accepted + Rejected, and Accepted == Unique + Duplicates.
type SourceReport struct {
	System     SystemName     `json:"system_name"`
	File       string         `json:"file,omitempty"`
	Status     SourceStatus   `json:"status"`
	Read       int            `json:"read"`
	Accepted   int            `json:"accepted"`
	Rejected   int            `json:"rejected"`
	Duplicates int            `json:"duplicates"`
	Unique     int            `json:"unique"`
	Written    int64          `json:"written"`
	Rejections map[string]int `json:"rejections,omitempty"`
	Error      string         `json:"error,omitempty"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
}

// Reject records one rejected raw record under reason.
func (s *SourceReport) Reject(reason string) {
	if s.Rejections == nil {
		s.Rejections = make(map[string]int)
	}
	s.Rejections[reason]++
	s.Rejected++
}

// IngestRun is one invocation of the ingestion pipeline.
type IngestRun struct {
	ID          string         `json:"id"`
	Status      RunStatus      `json:"status"`
	DataDir     string         `json:"data_dir"`
	Cleared     bool           `json:"cleared"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Sources     []SourceReport `json:"sources"`
	Error       string         `json:"error,omitempty"`
}

// Totals sums the per-source counters.
func (r *IngestRun) Totals() SourceReport {
	var t SourceReport
	for _, s := range r.Sources {
		t.Read += s.Read
		t.Accepted += s.Accepted
		t.Rejected += s.Rejected
		t.Duplicates += s.Duplicates
		t.Unique += s.Unique
		t.Written += s.Written
		t.Elapsed += s.Elapsed
		for reason, n := range s.Rejections {
			if t.Rejections == nil {
				t.Rejections = make(map[string]int)
			}
			t.Rejections[reason] += n
		}
	}
	return t
}

// FailedSources counts sources that were missing or failed.
func (r *IngestRun) FailedSources() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status == SourceFailed || s.Status == SourceMissing {
			n++
		}
	}
	return n
}
