package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSourceReportReject(t *testing.T) {
	var s SourceReport
	s.Reject("missing_coordinates")
	s.Reject("missing_coordinates")
	s.Reject("latitude_out_of_range")

	assert.Equal(t, 3, s.Rejected)
	assert.Equal(t, map[string]int{"missing_coordinates": 2, "latitude_out_of_range": 1}, s.Rejections)
}

func TestIngestRunTotals(t *testing.T) {
	run := IngestRun{Sources: []SourceReport{
		{System: SystemNMDC, Status: SourceIngested, Read: 4, Accepted: 3, Rejected: 1, Unique: 2, Duplicates: 1, Written: 2,
			Rejections: map[string]int{"missing_coordinates": 1}, Elapsed: time.Second},
		{System: SystemESSDive, Status: SourceIngested, Read: 2, Accepted: 2, Unique: 2, Written: 2,
			Elapsed: 500 * time.Millisecond},
		{System: SystemEMSL, Status: SourceMissing},
	}}

	tot := run.Totals()
	assert.Equal(t, 6, tot.Read)
	assert.Equal(t, 5, tot.Accepted)
	assert.Equal(t, 1, tot.Rejected)
	assert.Equal(t, 1, tot.Duplicates)
	assert.Equal(t, 4, tot.Unique)
	assert.Equal(t, int64(4), tot.Written)
	assert.Equal(t, 1500*time.Millisecond, tot.Elapsed)
	assert.Equal(t, map[string]int{"missing_coordinates": 1}, tot.Rejections)
	assert.Equal(t, tot.Read, tot.Accepted+tot.Rejected)
}

func TestIngestRunFailedSources(t *testing.T) {
	run := IngestRun{Sources: []SourceReport{
		{Status: SourceIngested}, {Status: SourceSkipped}, {Status: SourceMissing}, {Status: SourceFailed},
	}}
	assert.Equal(t, 2, run.FailedSources())
	assert.Equal(t, 0, (&IngestRun{}).FailedSources())
}
