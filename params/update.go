package params

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotblauer/tripd/common"
)

var ErrConfigOutOfRange = errors.New("config value out of range")

// Bounds for runtime configuration updates.
const (
	MinSpeedThreshold = 0.0
	MaxSpeedThreshold = 50.0

	MinDurationThreshold = 10 * time.Second
	MaxDurationThreshold = 300 * time.Second

	MinStopDurationThreshold = 10 * time.Second
	MaxStopDurationThreshold = 300 * time.Second

	MinGPSInterval = 5 * time.Second
	MaxGPSInterval = 300 * time.Second
)

// ConfigUpdate is a partial threshold update. Nil fields are left unchanged.
type ConfigUpdate struct {
	SpeedThreshold        *float64       `json:"speed_threshold,omitempty"`
	DurationThreshold     *time.Duration `json:"-"`
	StopDurationThreshold *time.Duration `json:"-"`
	GPSInterval           *time.Duration `json:"-"`

	DurationThresholdSeconds     *float64 `json:"duration_threshold,omitempty"`
	StopDurationThresholdSeconds *float64 `json:"stop_duration_threshold,omitempty"`
	GPSIntervalSeconds           *float64 `json:"gps_collection_interval,omitempty"`
}

func seconds(f *float64) *time.Duration {
	if f == nil {
		return nil
	}
	d := time.Duration(*f * float64(time.Second))
	return &d
}

// Resolve fills the duration fields from their JSON seconds counterparts.
// Explicit durations win.
func (u ConfigUpdate) Resolve() ConfigUpdate {
	if u.DurationThreshold == nil {
		u.DurationThreshold = seconds(u.DurationThresholdSeconds)
	}
	if u.StopDurationThreshold == nil {
		u.StopDurationThreshold = seconds(u.StopDurationThresholdSeconds)
	}
	if u.GPSInterval == nil {
		u.GPSInterval = seconds(u.GPSIntervalSeconds)
	}
	return u
}

// Empty returns true if the update changes nothing.
func (u ConfigUpdate) Empty() bool {
	u = u.Resolve()
	return u.SpeedThreshold == nil && u.DurationThreshold == nil &&
		u.StopDurationThreshold == nil && u.GPSInterval == nil
}

// Validate checks every set field against its bounds.
func (u ConfigUpdate) Validate() error {
	for name, v := range map[string]*float64{
		"duration_threshold":      u.DurationThresholdSeconds,
		"stop_duration_threshold": u.StopDurationThresholdSeconds,
		"gps_collection_interval": u.GPSIntervalSeconds,
	} {
		if v != nil && !common.IsFinite(*v) {
			return fmt.Errorf("%w: %s %v is not a number of seconds", ErrConfigOutOfRange, name, *v)
		}
	}
	u = u.Resolve()
	if v := u.SpeedThreshold; v != nil && (!common.IsFinite(*v) || *v < MinSpeedThreshold || *v > MaxSpeedThreshold) {
		return fmt.Errorf("%w: speed_threshold %v not in [%v, %v]", ErrConfigOutOfRange, *v, MinSpeedThreshold, MaxSpeedThreshold)
	}
	if v := u.DurationThreshold; v != nil && (*v < MinDurationThreshold || *v > MaxDurationThreshold) {
		return fmt.Errorf("%w: duration_threshold %v not in [%v, %v]", ErrConfigOutOfRange, *v, MinDurationThreshold, MaxDurationThreshold)
	}
	if v := u.StopDurationThreshold; v != nil && (*v < MinStopDurationThreshold || *v > MaxStopDurationThreshold) {
		return fmt.Errorf("%w: stop_duration_threshold %v not in [%v, %v]", ErrConfigOutOfRange, *v, MinStopDurationThreshold, MaxStopDurationThreshold)
	}
	if v := u.GPSInterval; v != nil && (*v < MinGPSInterval || *v > MaxGPSInterval) {
		return fmt.Errorf("%w: gps_collection_interval %v not in [%v, %v]", ErrConfigOutOfRange, *v, MinGPSInterval, MaxGPSInterval)
	}
	return nil
}

// ApplyTrip returns c with the update's trip thresholds applied.
func (u ConfigUpdate) ApplyTrip(c TripConfig) TripConfig {
	u = u.Resolve()
	if u.SpeedThreshold != nil {
		c.SpeedThreshold = *u.SpeedThreshold
	}
	if u.DurationThreshold != nil {
		c.DurationThreshold = *u.DurationThreshold
	}
	if u.StopDurationThreshold != nil {
		c.StopDurationThreshold = *u.StopDurationThreshold
	}
	return c
}
