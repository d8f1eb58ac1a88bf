// Package metrics counts what flows through the trip pipeline.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/tripd/common"
)

// Registry holds every tripd metric.
// Metrics must be enabled before any meter is constructed,
// otherwise the constructors return no-op meters.
var Registry = func() gethmetrics.Registry {
	gethmetrics.Enabled = true
	return gethmetrics.NewRegistry()
}()

var (
	SamplesAccepted  = gethmetrics.NewRegisteredMeter("samples.accepted", Registry)
	SamplesRejected  = gethmetrics.NewRegisteredMeter("samples.rejected", Registry)
	SamplesDuplicate = gethmetrics.NewRegisteredMeter("samples.duplicate", Registry)

	PointsRetained = gethmetrics.NewRegisteredMeter("points.retained", Registry)
	PointsFiltered = gethmetrics.NewRegisteredMeter("points.filtered", Registry)

	TripsStarted   = gethmetrics.NewRegisteredCounter("trips.started", Registry)
	TripsCompleted = gethmetrics.NewRegisteredCounter("trips.completed", Registry)
	TripsFailed    = gethmetrics.NewRegisteredCounter("trips.failed", Registry)

	PersistenceFailures = gethmetrics.NewRegisteredCounter("persistence.failures", Registry)
	Panics              = gethmetrics.NewRegisteredCounter("panics", Registry)
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	SamplesAccepted     int64   `json:"samples_accepted"`
	SamplesRejected     int64   `json:"samples_rejected"`
	SamplesDuplicate    int64   `json:"samples_duplicate"`
	SamplesRate1        float64 `json:"samples_rate1"`
	PointsRetained      int64   `json:"points_retained"`
	PointsFiltered      int64   `json:"points_filtered"`
	TripsStarted        int64   `json:"trips_started"`
	TripsCompleted      int64   `json:"trips_completed"`
	TripsFailed         int64   `json:"trips_failed"`
	PersistenceFailures int64   `json:"persistence_failures"`
	Panics              int64   `json:"panics"`
}

func Take() Snapshot {
	accepted := SamplesAccepted.Snapshot()
	return Snapshot{
		SamplesAccepted:     accepted.Count(),
		SamplesRejected:     SamplesRejected.Snapshot().Count(),
		SamplesDuplicate:    SamplesDuplicate.Snapshot().Count(),
		SamplesRate1:        accepted.Rate1(),
		PointsRetained:      PointsRetained.Snapshot().Count(),
		PointsFiltered:      PointsFiltered.Snapshot().Count(),
		TripsStarted:        TripsStarted.Snapshot().Count(),
		TripsCompleted:      TripsCompleted.Snapshot().Count(),
		TripsFailed:         TripsFailed.Snapshot().Count(),
		PersistenceFailures: PersistenceFailures.Snapshot().Count(),
		Panics:              Panics.Snapshot().Count(),
	}
}

// LogEvery logs a summary line every interval until ctx is done.
func LogEvery(ctx context.Context, interval time.Duration) {
	started := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := Take()
			slog.Info("Pipeline",
				"samples", humanize.Comma(s.SamplesAccepted),
				"rejected", humanize.Comma(s.SamplesRejected),
				"dupes", humanize.Comma(s.SamplesDuplicate),
				"sps", common.DecimalToFixed(s.SamplesRate1, 2),
				"points", humanize.Comma(s.PointsRetained),
				"trips", humanize.Comma(s.TripsCompleted),
				"failed", s.TripsFailed,
				"running", time.Since(started).Round(time.Second))
		}
	}
}
