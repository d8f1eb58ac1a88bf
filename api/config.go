package api

import (
	"errors"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/params"
)

var ErrEmptyUpdate = errors.New("config update sets nothing")

// ConfigResult is the configuration in effect after an update.
type ConfigResult struct {
	Scope       string            `json:"scope"`
	UserID      conceptual.UserID `json:"user_id,omitempty"`
	Trip        params.TripConfig `json:"trip"`
	GPSInterval time.Duration     `json:"-"`

	GPSIntervalSeconds float64 `json:"gps_collection_interval"`
}

// TripConfig returns the thresholds new sessions start with.
func (s *System) TripConfig() params.TripConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripConfig
}

// UpdateConfig applies a partial threshold update to one user, or to every
// user when userID is nil. A global update also changes the defaults of
// sessions created later. The GPS interval is recorder-wide either way.
// Out of range values fail with params.ErrConfigOutOfRange and change nothing.
func (s *System) UpdateConfig(userID *conceptual.UserID, update params.ConfigUpdate) (res ConfigResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered("update_config", r)
		}
	}()

	update = update.Resolve()
	if update.Empty() {
		return res, ErrEmptyUpdate
	}
	if err := update.Validate(); err != nil {
		return res, err
	}

	if update.GPSInterval != nil {
		s.Recorder.SetGPSInterval(*update.GPSInterval)
	}
	res.GPSInterval = s.Recorder.Config().GPSInterval
	res.GPSIntervalSeconds = res.GPSInterval.Seconds()

	if userID != nil {
		sess := s.lockSession(*userID)
		sess.detector.SetConfig(update.ApplyTrip(sess.detector.Config))
		res.Trip = sess.detector.Config
		sess.mu.Unlock()
		res.Scope = "user"
		res.UserID = *userID
		s.logger.Info("Updated user config", "user", *userID, "config", res.Trip)
		return res, nil
	}

	s.mu.Lock()
	s.tripConfig = update.ApplyTrip(s.tripConfig)
	res.Trip = s.tripConfig
	s.mu.Unlock()
	for _, sess := range s.allSessions() {
		sess.mu.Lock()
		sess.detector.SetConfig(update.ApplyTrip(sess.detector.Config))
		sess.mu.Unlock()
	}
	res.Scope = "global"
	s.logger.Info("Updated global config", "config", res.Trip)
	return res, nil
}
