package api

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rotblauer/tripd/catdb/cache"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/events"
	"github.com/rotblauer/tripd/geo/mode"
	"github.com/rotblauer/tripd/geo/route"
	"github.com/rotblauer/tripd/geo/sensor"
	"github.com/rotblauer/tripd/geo/tripdetector"
	"github.com/rotblauer/tripd/metrics"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/rgeo"
	"github.com/rotblauer/tripd/roads"
	"github.com/rotblauer/tripd/state"
	"github.com/rotblauer/tripd/types/trip"
)

// Options configure a System. Zero values take defaults;
// nil collaborators are skipped.
type Options struct {
	Sensor   *params.SensorConfig
	Trip     *params.TripConfig
	Recorder *params.RecorderConfig
	Feature  *params.FeatureConfig

	Persister state.Persister
	Snapper   roads.Snapper
	Geocoder  rgeo.ReverseGeocoder
	Archiver  state.RouteArchiver

	// ClassifyTrips sets the transport mode of completed trips.
	ClassifyTrips bool

	// Clock stamps trip boundaries. Defaults to time.Now.
	Clock func() time.Time
}

// Session is the per-user pipeline state.
// Its mutex serializes all processing for the user.
type Session struct {
	UserID  conceptual.UserID
	Created time.Time

	mu       sync.Mutex
	closed   bool
	detector *tripdetector.TripDetector
	lastTrip *trip.Summary
}

// System routes sensor samples for many users through normalization,
// trip detection and route recording.
type System struct {
	Normalizer *sensor.Normalizer
	Recorder   *route.Recorder
	Analyzer   *mode.Analyzer
	Feed       *events.TripFeed

	clock     func() time.Time
	dedupe    *cache.Dedupe
	lastKnown *cache.LastKnown

	mu         sync.RWMutex
	sessions   map[conceptual.UserID]*Session
	tripConfig params.TripConfig

	logger *slog.Logger
}

func NewSystem(opts Options) *System {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	tripConfig := params.DefaultTripConfig()
	if opts.Trip != nil {
		tripConfig = *opts.Trip
	}
	persister := opts.Persister
	if persister == nil {
		persister = state.NewMemStore()
	}

	s := &System{
		Normalizer: sensor.New(opts.Sensor),
		Recorder:   route.NewRecorder(opts.Recorder, persister),
		Analyzer:   mode.NewAnalyzer(opts.Feature),
		Feed:       events.NewTripFeed(),
		clock:      clock,
		dedupe:     cache.NewDedupe(params.DedupeCacheSize),
		lastKnown:  cache.NewLastKnown(params.CacheLastKnownTTL),
		sessions:   make(map[conceptual.UserID]*Session),
		tripConfig: tripConfig,
		logger:     slog.With("system", "tripd"),
	}
	s.Recorder.Clock = clock
	s.Recorder.Snapper = opts.Snapper
	s.Recorder.Geocoder = opts.Geocoder
	s.Recorder.Archiver = opts.Archiver
	if opts.ClassifyTrips {
		s.Recorder.Classifier = s.Analyzer
	}
	s.Analyzer.Clock = clock
	return s
}

// session returns the user's session, creating it on first contact.
func (s *System) session(userID conceptual.UserID) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess = &Session{UserID: userID, Created: s.clock()}
	d := tripdetector.NewTripDetector(userID, s.tripConfig, &recorderHooks{sys: s, sess: sess})
	d.Clock = s.clock
	sess.detector = d
	s.sessions[userID] = sess
	s.logger.Info("Created user session", "user", userID, "sessions", len(s.sessions))
	return sess
}

// lockSession returns the user's session locked.
// A session closed by CleanupUser is looked up again.
func (s *System) lockSession(userID conceptual.UserID) *Session {
	for {
		sess := s.session(userID)
		sess.mu.Lock()
		if !sess.closed {
			return sess
		}
		sess.mu.Unlock()
	}
}

func (s *System) lookup(userID conceptual.UserID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

func (s *System) allSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Users returns the number of sessions.
func (s *System) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// recovered turns a panic in a public operation into an error.
func (s *System) recovered(op string, r any) error {
	metrics.Panics.Inc(1)
	s.logger.Error("Recovered panic", "op", op, "panic", r, "stack", string(debug.Stack()))
	return fmt.Errorf("%s: internal error: %v", op, r)
}

// CleanupUser removes the user's session, smoothing windows, last known
// sample, dedupe history and travel patterns. An open trip is stopped first.
// Finalized trips are unaffected.
func (s *System) CleanupUser(ctx context.Context, userID conceptual.UserID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered("cleanup_user", r)
		}
	}()

	if sess, ok := s.lookup(userID); ok {
		sess.mu.Lock()
		if sess.detector.State() == tripdetector.Active {
			if _, err := sess.detector.ManualStop(ctx); err != nil {
				s.logger.Warn("Failed to stop trip during cleanup", "user", userID, "error", err)
			}
		}
		s.mu.Lock()
		if s.sessions[userID] == sess {
			delete(s.sessions, userID)
		}
		s.mu.Unlock()
		sess.closed = true
		s.forget(userID)
		sess.mu.Unlock()
	} else {
		s.forget(userID)
	}
	s.logger.Info("Cleaned up user", "user", userID)
	return nil
}

func (s *System) forget(userID conceptual.UserID) {
	s.Normalizer.Cleanup(userID)
	s.lastKnown.Delete(userID)
	s.dedupe.Forget(userID)
	s.Analyzer.Forget(userID)
}

// Close stops the heartbeats of all open trips. Open trips are not finalized.
func (s *System) Close() {
	s.Recorder.Close()
}
