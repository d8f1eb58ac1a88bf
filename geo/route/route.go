// Package route records the GPS buffer of open trips and finalizes them.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/metrics"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/rgeo"
	"github.com/rotblauer/tripd/roads"
	"github.com/rotblauer/tripd/state"
	"github.com/rotblauer/tripd/types/mode"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
)

var ErrAlreadyRecording = errors.New("trip already recording")

// ModeClassifier assigns a transport mode to a finished route.
type ModeClassifier interface {
	ClassifyRoute(userID conceptual.UserID, points []trip.GpsPoint) (mode.TransportMode, error)
}

// recording is an open trip and the goroutines attached to it.
type recording struct {
	mu  sync.Mutex
	rec *trip.Record

	// cancel stops the heartbeat; heartbeat is done when it has returned.
	cancel    context.CancelFunc
	heartbeat chan struct{}

	// flushMu serializes flushes so the persisted prefix only grows.
	flushMu sync.Mutex
	flushes sync.WaitGroup

	// stopping is guarded by Recorder.mu.
	stopping bool

	logger *slog.Logger
}

// Recorder owns the point buffers of all open trips.
// Optional collaborators (Snapper, Geocoder, Archiver, Classifier) may be nil.
type Recorder struct {
	Persister  state.Persister
	Snapper    roads.Snapper
	Geocoder   rgeo.ReverseGeocoder
	Archiver   state.RouteArchiver
	Classifier ModeClassifier

	// Clock stamps trip start and end. Defaults to time.Now.
	Clock func() time.Time

	mu     sync.Mutex
	config params.RecorderConfig
	trips  map[conceptual.TripID]*recording
	wg     sync.WaitGroup
}

func NewRecorder(config *params.RecorderConfig, persister state.Persister) *Recorder {
	if config == nil {
		config = params.DefaultRecorderConfig()
	}
	return &Recorder{
		Persister: persister,
		Clock:     time.Now,
		config:    *config,
		trips:     make(map[conceptual.TripID]*recording),
	}
}

func (r *Recorder) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock()
}

// Config returns a copy of the current configuration.
func (r *Recorder) Config() params.RecorderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// SetGPSInterval changes the heartbeat period of trips started from now on.
func (r *Recorder) SetGPSInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.GPSInterval = d
}

func (r *Recorder) get(tripID conceptual.TripID) (*recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, trip.ErrNoActiveTrip)
	}
	return rc, nil
}

// Start opens a trip and starts its heartbeat.
// The heartbeat outlives ctx; it stops on Stop or Close.
func (r *Recorder) Start(ctx context.Context, tripID conceptual.TripID, userID conceptual.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trips[tripID]; ok {
		return fmt.Errorf("trip %s: %w", tripID, ErrAlreadyRecording)
	}

	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rc := &recording{
		rec: &trip.Record{
			TripID: tripID,
			UserID: userID,
			Start:  r.now(),
			Status: trip.StatusRecording,
			Points: []trip.GpsPoint{},
		},
		cancel:    cancel,
		heartbeat: make(chan struct{}),
		logger:    slog.With("user", userID, "trip", tripID),
	}
	r.trips[tripID] = rc

	interval := r.config.GPSInterval
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(rc.heartbeat)
		rc.runHeartbeat(hbCtx, interval)
	}()

	metrics.TripsStarted.Inc(1)
	rc.logger.Info("Started route recording")
	return nil
}

func (rc *recording) runHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = params.DefaultRecorderConfig().GPSInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.mu.Lock()
			n := len(rc.rec.Points)
			rc.mu.Unlock()
			rc.logger.Debug("Recording heartbeat", "points", n)
		}
	}
}

// ValidatePoint checks coordinate bounds and accuracy.
func (r *Recorder) ValidatePoint(p trip.GpsPoint) error {
	if !common.ValidLatLng(p.Lat, p.Lng) {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", sample.ErrInvalidInput, p.Lat, p.Lng)
	}
	if !common.IsFinite(p.Accuracy) || p.Accuracy < 0 {
		return fmt.Errorf("%w: accuracy %v", sample.ErrInvalidInput, p.Accuracy)
	}
	if limit := r.Config().MaxAccuracy; p.Accuracy > limit {
		return fmt.Errorf("%w: accuracy %v exceeds %v m", sample.ErrInvalidInput, p.Accuracy, limit)
	}
	return nil
}

// AddPoint offers p to the trip's buffer and reports whether it was retained.
// Points closer than MinDistance to the last retained point are dropped;
// the first point is always kept. Every BatchSize retained points an
// asynchronous flush of the unflushed points is started.
func (r *Recorder) AddPoint(ctx context.Context, tripID conceptual.TripID, p trip.GpsPoint) (bool, error) {
	rc, err := r.get(tripID)
	if err != nil {
		return false, err
	}
	if err := r.ValidatePoint(p); err != nil {
		return false, err
	}
	cfg := r.Config()

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.rec.Status != trip.StatusRecording {
		return false, fmt.Errorf("trip %s is %s: %w", tripID, rc.rec.Status, trip.ErrNoActiveTrip)
	}

	if n := len(rc.rec.Points); n > 0 {
		last := rc.rec.Points[n-1]
		if p.Time.Before(last.Time) {
			return false, fmt.Errorf("%w: point at %s precedes last retained point at %s",
				sample.ErrInvalidInput, p.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
		}
		if common.HaversineMeters(last.Lat, last.Lng, p.Lat, p.Lng) < cfg.MinDistance {
			metrics.PointsFiltered.Mark(1)
			return false, nil
		}
	}

	rc.rec.Points = append(rc.rec.Points, p)
	metrics.PointsRetained.Mark(1)

	if n := len(rc.rec.Points); cfg.BatchSize > 0 && n%cfg.BatchSize == 0 {
		r.flushAsync(ctx, rc, n)
	}
	return true, nil
}

// flushAsync persists the points up to upto that are not yet persisted.
// It runs detached from ctx's cancellation. The caller holds rc.mu.
func (r *Recorder) flushAsync(ctx context.Context, rc *recording, upto int) {
	ctx = context.WithoutCancel(ctx)
	rc.flushes.Add(1)
	go func() {
		defer rc.flushes.Done()
		r.flush(ctx, rc, upto, string(rc.rec.TripID))
	}()
}

// flush persists points[Flushed:upto] under persistID.
// A failed flush leaves the points unflushed for a later flush to retry.
func (r *Recorder) flush(ctx context.Context, rc *recording, upto int, persistID string) bool {
	rc.flushMu.Lock()
	defer rc.flushMu.Unlock()

	rc.mu.Lock()
	from := rc.rec.Flushed
	if upto > len(rc.rec.Points) {
		upto = len(rc.rec.Points)
	}
	if upto <= from {
		rc.mu.Unlock()
		return true
	}
	batch := state.PointsBatch{
		TripID: persistID,
		UserID: rc.rec.UserID,
		Points: append([]trip.GpsPoint{}, rc.rec.Points[from:upto]...),
	}
	rc.mu.Unlock()

	if r.Persister == nil {
		return false
	}
	if err := r.Persister.PersistGpsPointsBatch(ctx, batch); err != nil {
		metrics.PersistenceFailures.Inc(1)
		rc.logger.Error("Failed to persist points batch", "from", from, "to", upto, "error", err)
		return false
	}

	rc.mu.Lock()
	if upto > rc.rec.Flushed {
		rc.rec.Flushed = upto
	}
	rc.mu.Unlock()
	rc.logger.Debug("Persisted points batch", "from", from, "to", upto, "persist_id", persistID)
	return true
}
