package sensor

import (
	"fmt"
	"log/slog"
	"time"

	rkalman "github.com/regnull/kalman"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/types/sample"
)

func newRKalmanFilter(latitude, speed, acceleration float64) (*rkalman.GeoFilter, error) {
	processNoise := &rkalman.GeoProcessNoise{
		// We assume the measurements will take place at the approximately the
		// same location, so that we can disregard the earth's curvature.
		BaseLat: latitude,
		// How much do we expect the user to move, meters per second.
		DistancePerSecond: speed,
		// How much do we expect the user's speed to change, meters per second squared.
		SpeedPerSecond: acceleration,
	}
	filter, err := rkalman.NewGeoFilter(processNoise)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Kalman filter: %w", err)
	}
	return filter, nil
}

// estimator tracks one user's filtered position.
type estimator struct {
	filter *rkalman.GeoFilter
	last   time.Time
	est    sample.Estimate
}

// observe feeds a validated sample to the filter and returns the current estimate.
// A gap longer than resetInterval, or time running backwards, resets the filter.
func (e *estimator) observe(raw *sample.RawSample, resetInterval time.Duration) *sample.Estimate {
	speedMps := 0.0
	if raw.Speed != nil && *raw.Speed > 0 {
		speedMps = *raw.Speed
	}

	span := raw.Time.Sub(e.last)
	if e.filter == nil || span > resetInterval || span < 0 {
		e.reset(raw, speedMps)
		out := e.est
		return &out
	}
	if span == 0 {
		out := e.est
		return &out
	}

	bearing := 0.0
	if raw.Bearing != nil && common.IsFinite(*raw.Bearing) {
		bearing = common.NormalizeBearing(*raw.Bearing)
	}
	altitude := 0.0
	if raw.Altitude != nil && common.IsFinite(*raw.Altitude) {
		altitude = *raw.Altitude
	}
	err := e.filter.Observe(span.Seconds(), &rkalman.GeoObserved{
		Lat:                raw.Lat,
		Lng:                raw.Lng,
		Altitude:           altitude,
		Speed:              speedMps,
		SpeedAccuracy:      0.2,
		Direction:          bearing,
		DirectionAccuracy:  0,
		HorizontalAccuracy: raw.Accuracy,
		VerticalAccuracy:   2.0,
	})
	e.last = raw.Time
	if err != nil {
		slog.Debug("Kalman.Observe failed", "user", raw.UserID, "error", err)
		out := e.est
		return &out
	}
	if estimate := e.filter.Estimate(); estimate != nil {
		e.est = sample.Estimate{
			Lat:      estimate.Lat,
			Lng:      estimate.Lng,
			SpeedKmh: common.MpsToKmh(estimate.Speed),
		}
	}
	out := e.est
	return &out
}

func (e *estimator) reset(raw *sample.RawSample, speedMps float64) {
	filter, err := newRKalmanFilter(raw.Lat, speedMps, 0.1)
	if err != nil {
		slog.Warn("Kalman reset failed", "user", raw.UserID, "error", err)
	}
	e.filter = filter
	e.last = raw.Time
	e.est = sample.Estimate{
		Lat:      raw.Lat,
		Lng:      raw.Lng,
		SpeedKmh: common.MpsToKmh(speedMps),
	}
}
