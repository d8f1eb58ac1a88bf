package route

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/metrics"
	"github.com/rotblauer/tripd/s2"
	"github.com/rotblauer/tripd/state"
	"github.com/rotblauer/tripd/types/mode"
	"github.com/rotblauer/tripd/types/trip"
)

// Status is a read-only view of an open trip.
type Status struct {
	TripID     conceptual.TripID `json:"trip_id"`
	UserID     conceptual.UserID `json:"user_id"`
	Status     trip.Status       `json:"status"`
	Start      time.Time         `json:"start_time"`
	PointCount int               `json:"points_collected"`
	Elapsed    time.Duration     `json:"-"`
	ElapsedMin float64           `json:"duration_minutes"`
	DistanceKm float64           `json:"distance_km"`
	Flushed    int               `json:"points_flushed"`
}

func (r *Recorder) status(rc *recording) *Status {
	cfg := r.Config()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	elapsed := r.now().Sub(rc.rec.Start)
	return &Status{
		TripID:     rc.rec.TripID,
		UserID:     rc.rec.UserID,
		Status:     rc.rec.Status,
		Start:      rc.rec.Start,
		PointCount: len(rc.rec.Points),
		Elapsed:    elapsed,
		ElapsedMin: elapsed.Minutes(),
		DistanceKm: trip.RoundKm(trip.RouteDistanceKm(rc.rec.Points, cfg.OutlierSegmentKm)),
		Flushed:    rc.rec.Flushed,
	}
}

// Status reports on an open trip without changing it.
func (r *Recorder) Status(tripID conceptual.TripID) (*Status, error) {
	rc, err := r.get(tripID)
	if err != nil {
		return nil, err
	}
	return r.status(rc), nil
}

// Statuses reports on every open trip, oldest first.
func (r *Recorder) Statuses() []*Status {
	r.mu.Lock()
	open := make([]*recording, 0, len(r.trips))
	for _, rc := range r.trips {
		open = append(open, rc)
	}
	r.mu.Unlock()

	out := make([]*Status, 0, len(open))
	for _, rc := range open {
		out = append(out, r.status(rc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].TripID < out[j].TripID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Points returns a copy of the trip's retained points.
func (r *Recorder) Points(tripID conceptual.TripID) ([]trip.GpsPoint, error) {
	rc, err := r.get(tripID)
	if err != nil {
		return nil, err
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]trip.GpsPoint{}, rc.rec.Points...), nil
}

// Stop finalizes an open trip and removes it from the recorder.
// Persistence failures are logged and do not fail the stop; a failure during
// post-processing yields a summary with trip.StatusError.
func (r *Recorder) Stop(ctx context.Context, tripID conceptual.TripID) (*trip.Summary, error) {
	r.mu.Lock()
	rc, ok := r.trips[tripID]
	if !ok || rc.stopping {
		r.mu.Unlock()
		return nil, fmt.Errorf("trip %s: %w", tripID, trip.ErrNoActiveTrip)
	}
	rc.stopping = true
	r.mu.Unlock()

	rc.cancel()
	<-rc.heartbeat

	rc.mu.Lock()
	rc.rec.Status = trip.StatusProcessing
	rc.rec.End = r.now()
	rc.mu.Unlock()

	// No point is accepted once processing, so no new flush can start.
	rc.flushes.Wait()

	summary := r.summarize(ctx, rc)

	if r.Persister != nil {
		r.persist(context.WithoutCancel(ctx), rc, summary)
	}
	if r.Archiver != nil {
		points, _ := r.snapshotPoints(rc)
		if err := r.Archiver.ArchiveRoute(ctx, summary, points); err != nil {
			rc.logger.Warn("Failed to archive route", "error", err)
		}
	}

	r.mu.Lock()
	delete(r.trips, tripID)
	r.mu.Unlock()

	if summary.Status == trip.StatusError {
		metrics.TripsFailed.Inc(1)
	} else {
		metrics.TripsCompleted.Inc(1)
	}
	rc.logger.Info("Stopped route recording",
		"status", summary.Status,
		"points", summary.PointCount,
		"km", summary.TotalDistanceKm,
		"minutes", summary.DurationMinutes,
		"mode", summary.Mode)
	return summary, nil
}

func (r *Recorder) snapshotPoints(rc *recording) ([]trip.GpsPoint, int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]trip.GpsPoint{}, rc.rec.Points...), rc.rec.Flushed
}

// summarize builds the trip summary. A panic in any enrichment step
// marks the trip as errored instead of escaping.
func (r *Recorder) summarize(ctx context.Context, rc *recording) (summary *trip.Summary) {
	cfg := r.Config()
	points, _ := r.snapshotPoints(rc)

	rc.mu.Lock()
	rec := rc.rec
	summary = &trip.Summary{
		TripID:     rec.TripID,
		UserID:     rec.UserID,
		TripNumber: trip.Number(rec.Start),
		ChainID:    trip.ChainID(rec.Start),
		Start:      rec.Start,
		End:        rec.End,
		PointCount: len(points),
		Status:     trip.StatusProcessing,
		Mode:       mode.Unknown,
	}
	rc.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.Panics.Inc(1)
			rc.logger.Error("Recovered panic finalizing trip", "panic", rec)
			summary.Status = trip.StatusError
		}
		rc.mu.Lock()
		rc.rec.Status = summary.Status
		rc.rec.DurationMinutes = summary.DurationMinutes
		rc.rec.TotalDistanceKm = summary.TotalDistanceKm
		rc.mu.Unlock()
	}()

	summary.DurationMinutes = trip.WholeMinutes(summary.End.Sub(summary.Start))
	summary.TotalDistanceKm = trip.RoundKm(trip.RouteDistanceKm(points, cfg.OutlierSegmentKm))

	if len(points) > 0 {
		first, last := points[0], points[len(points)-1]
		summary.StartLat, summary.StartLng = first.Lat, first.Lng
		summary.EndLat, summary.EndLng = last.Lat, last.Lng
		summary.OriginCell = s2.Token(first.Point(), s2.DefaultTripEndpointLevel)
		summary.DestinationCell = s2.Token(last.Point(), s2.DefaultTripEndpointLevel)
		if r.Geocoder != nil {
			summary.OriginLabel = r.label(rc.logger, first)
			summary.DestinationLabel = r.label(rc.logger, last)
		}
	}

	if r.Snapper != nil && len(points) > 1 {
		snapped, err := r.Snapper.SnapToRoads(ctx, points)
		if err != nil {
			rc.logger.Warn("Road snapping failed", "error", err)
		} else {
			summary.Snapped = snapped
		}
	}

	if r.Classifier != nil {
		m, err := r.Classifier.ClassifyRoute(summary.UserID, points)
		if err != nil {
			rc.logger.Debug("Trip mode not classified", "error", err)
		} else {
			summary.Mode = m
		}
	}

	summary.Status = trip.StatusCompleted
	return summary
}

func (r *Recorder) label(logger *slog.Logger, p trip.GpsPoint) string {
	label, err := r.Geocoder.Label(p.Point())
	if err != nil {
		logger.Debug("Reverse geocode failed", "lat", p.Lat, "lng", p.Lng, "error", err)
		return ""
	}
	return label
}

// persist stores the summary, resolves its persisted id and flushes the
// remaining points under that id.
func (r *Recorder) persist(ctx context.Context, rc *recording, summary *trip.Summary) {
	if err := r.Persister.PersistTripRecord(ctx, summary); err != nil {
		metrics.PersistenceFailures.Inc(1)
		rc.logger.Error("Failed to persist trip record", "error", err)
	}

	persistID := string(summary.TripID)
	id, ok, err := r.Persister.LookupPersistedTripID(ctx, summary.UserID, summary.TripNumber)
	switch {
	case err != nil:
		metrics.PersistenceFailures.Inc(1)
		rc.logger.Error("Failed to look up persisted trip id", "trip_number", summary.TripNumber, "error", err)
	case !ok:
		rc.logger.Warn("Persisted trip id not found", "trip_number", summary.TripNumber)
	default:
		persistID = id
		summary.PersistedID = id
	}

	rc.mu.Lock()
	n := len(rc.rec.Points)
	rekey := persistID != string(rc.rec.TripID) && rc.rec.Flushed > 0
	if rekey {
		// Batches flushed while recording are keyed by the trip id.
		// The whole route is written again under the persisted id.
		rc.rec.Flushed = 0
	}
	rc.mu.Unlock()

	if !r.flush(ctx, rc, n, persistID) {
		rc.logger.Warn("Unflushed points dropped with trip", "points", n-rc.flushedCount(), "persist_id", persistID)
		return
	}
	if !rekey {
		return
	}
	discarder, ok := r.Persister.(state.PointsDiscarder)
	if !ok {
		return
	}
	if err := discarder.DiscardPoints(ctx, string(rc.rec.TripID)); err != nil {
		metrics.PersistenceFailures.Inc(1)
		rc.logger.Warn("Failed to discard points stored under trip id", "error", err)
	}
}

func (rc *recording) flushedCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.rec.Flushed
}

// Close stops the heartbeats of all open trips and waits for them and
// any in-flight flushes. Open trips are not finalized.
func (r *Recorder) Close() {
	r.mu.Lock()
	open := make([]*recording, 0, len(r.trips))
	for _, rc := range r.trips {
		rc.cancel()
		open = append(open, rc)
	}
	r.mu.Unlock()
	for _, rc := range open {
		rc.flushes.Wait()
	}
	r.wg.Wait()
}
