// Package monitoring records run metrics and raises webhook alerts when
// recent sync runs look unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/titan-sync/internal/model"
)

// Snapshot holds a point-in-time view of recent sync runs.
type Snapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsCancelled int     `json:"runs_cancelled"`
	FailRate      float64 `json:"fail_rate"`

	// Failed or cancelled runs since the last complete one, newest first.
	ConsecutiveFailures int `json:"consecutive_failures"`

	RecordsProcessed int     `json:"records_processed"`
	RecordErrors     int     `json:"record_errors"`
	ErrorRate        float64 `json:"error_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the run store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

// Collector summarizes run history from the store.
type Collector struct {
	runs    RunLister
	nowFunc func() time.Time
}

// NewCollector creates a new run collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, nowFunc: time.Now}
}

// Collect summarizes the runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.nowFunc().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, model.RunFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	streak := true
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			streak = false
		case model.RunStatusFailed, model.RunStatusCancelled:
			if r.Status == model.RunStatusFailed {
				snap.RunsFailed++
			} else {
				snap.RunsCancelled++
			}
			if streak {
				snap.ConsecutiveFailures++
			}
		}
		if r.Result != nil {
			snap.RecordsProcessed += r.Result.Processed
			snap.RecordErrors += r.Result.Errors
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed + snap.RunsCancelled; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed+snap.RunsCancelled) / float64(finished)
	}
	if snap.RecordsProcessed > 0 {
		snap.ErrorRate = float64(snap.RecordErrors) / float64(snap.RecordsProcessed)
	}
	return snap, nil
}
