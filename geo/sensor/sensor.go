// Package sensor validates and smooths raw device samples.
package sensor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/activity"
	"github.com/rotblauer/tripd/types/sample"
)

const defaultActivityConfidence = 0.5

// movementSpeedKmh is the speed at which speed alone is full evidence of movement.
const movementSpeedKmh = 5.0

// windows is the per-user smoothing state.
type windows struct {
	mu     sync.Mutex
	speed  *common.RingBuffer[float64]
	motion *common.RingBuffer[float64]
	kalman estimator
	last   time.Time
}

// Normalizer turns RawSamples into NormalizedSamples.
// It is safe for concurrent use; each user's windows are only touched
// by that user's samples.
type Normalizer struct {
	Config *params.SensorConfig

	mu    sync.Mutex
	users map[conceptual.UserID]*windows
}

func New(config *params.SensorConfig) *Normalizer {
	if config == nil {
		config = params.DefaultSensorConfig()
	}
	return &Normalizer{
		Config: config,
		users:  make(map[conceptual.UserID]*windows),
	}
}

func (n *Normalizer) windowsFor(userID conceptual.UserID) *windows {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.users[userID]
	if !ok {
		w = &windows{
			speed:  common.NewRingBuffer[float64](n.Config.SpeedWindow),
			motion: common.NewRingBuffer[float64](n.Config.MotionWindow),
		}
		n.users[userID] = w
	}
	return w
}

// Validate checks raw against the configured bounds without touching any state.
func (n *Normalizer) Validate(raw *sample.RawSample) error {
	if raw == nil {
		return fmt.Errorf("%w: nil sample", sample.ErrInvalidInput)
	}
	if !common.ValidLatLng(raw.Lat, raw.Lng) {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", sample.ErrInvalidInput, raw.Lat, raw.Lng)
	}
	if !common.IsFinite(raw.Accuracy) || raw.Accuracy < 0 {
		return fmt.Errorf("%w: accuracy %v", sample.ErrInvalidInput, raw.Accuracy)
	}
	if raw.Accuracy > n.Config.MaxAccuracy {
		return fmt.Errorf("%w: accuracy %v exceeds %v m", sample.ErrInvalidInput, raw.Accuracy, n.Config.MaxAccuracy)
	}
	if raw.Speed != nil {
		if !common.IsFinite(*raw.Speed) {
			return fmt.Errorf("%w: speed %v", sample.ErrInvalidInput, *raw.Speed)
		}
		if kmh := common.MpsToKmh(*raw.Speed); kmh > n.Config.MaxSpeedKmh {
			return fmt.Errorf("%w: speed %.1f km/h exceeds %v km/h", sample.ErrInvalidInput, kmh, n.Config.MaxSpeedKmh)
		}
	}
	if raw.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", sample.ErrInvalidInput)
	}
	return nil
}

// Normalize validates raw, updates the user's windows and returns the normalized sample.
// Invalid samples return an error wrapping sample.ErrInvalidInput and leave all windows untouched.
func (n *Normalizer) Normalize(raw *sample.RawSample) (*sample.NormalizedSample, error) {
	if err := n.Validate(raw); err != nil {
		return nil, err
	}

	w := n.windowsFor(raw.UserID)
	w.mu.Lock()
	defer w.mu.Unlock()

	// Devices report negative speeds for "no fix"; those count as 0.
	speedKmh := 0.0
	if raw.Speed != nil && *raw.Speed > 0 {
		speedKmh = common.MpsToKmh(*raw.Speed)
	}
	w.speed.Add(speedKmh)
	smoothed, _ := stats.Mean(w.speed.Get())

	act, conf := ClassifyActivity(raw.Activity, raw.ActivityConfidence)
	moving, movementConf := Movement(act, conf, smoothed)

	out := &sample.NormalizedSample{
		UserID:             raw.UserID,
		Time:               raw.Time,
		Lat:                raw.Lat,
		Lng:                raw.Lng,
		Accuracy:           raw.Accuracy,
		SpeedKmh:           smoothed,
		Altitude:           raw.Altitude,
		Bearing:            raw.Bearing,
		Activity:           act,
		ActivityConfidence: conf,
		IsMoving:           moving,
		MovementConfidence: movementConf,
		LocationQuality:    sample.QualityFromAccuracy(raw.Accuracy),
	}

	if raw.Accelerometer != nil {
		mag := raw.Accelerometer.Magnitude()
		if common.IsFinite(mag) {
			w.motion.Add(mag)
		}
	}
	if v, ok := n.motionVariance(w); ok {
		stationary := v < n.Config.StationaryVarianceThreshold
		out.MotionVariance = &v
		out.IsStationary = &stationary
	}

	out.Estimate = w.kalman.observe(raw, n.Config.KalmanResetInterval)
	w.last = raw.Time
	return out, nil
}

func (n *Normalizer) motionVariance(w *windows) (float64, bool) {
	if w.motion.Len() < n.Config.MinMotionSamples {
		return 0, false
	}
	v, err := stats.SampleVariance(w.motion.Get())
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ClassifyActivity maps a device label and confidence to an Activity.
// Missing or zero confidence defaults to 0.5; other values are clamped to [0,1].
func ClassifyActivity(label string, confidence *float64) (activity.Activity, float64) {
	act := activity.FromString(label)
	conf := defaultActivityConfidence
	if confidence != nil && *confidence != 0 && common.IsFinite(*confidence) {
		conf = common.Clamp(*confidence, 0, 1)
	}
	return act, conf
}

// Movement blends the activity's movement likelihood with a speed score,
// weighting the activity by its confidence.
func Movement(act activity.Activity, confidence, speedKmh float64) (bool, float64) {
	speedScore := math.Min(1, math.Max(0, speedKmh)/movementSpeedKmh)
	combined := act.MovementLikelihood()*confidence + speedScore*(1-confidence)
	return combined > 0.5, combined
}

// Summary describes a user's current smoothing windows.
type Summary struct {
	UserID          conceptual.UserID `json:"user_id"`
	SpeedSamples    int               `json:"speed_samples"`
	MotionSamples   int               `json:"motion_samples"`
	CurrentSpeedKmh float64           `json:"current_speed_kmh"`
	AvgSpeedKmh     float64           `json:"avg_speed_kmh"`
	MinSpeedKmh     float64           `json:"min_speed_kmh"`
	MaxSpeedKmh     float64           `json:"max_speed_kmh"`
	MotionVariance  *float64          `json:"motion_variance,omitempty"`
	IsStationary    *bool             `json:"is_stationary,omitempty"`
	LastSample      time.Time         `json:"last_sample"`
}

// Summary returns the user's window statistics, or false if the user has none.
func (n *Normalizer) Summary(userID conceptual.UserID) (Summary, bool) {
	n.mu.Lock()
	w, ok := n.users[userID]
	n.mu.Unlock()
	if !ok {
		return Summary{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	s := Summary{
		UserID:        userID,
		SpeedSamples:  w.speed.Len(),
		MotionSamples: w.motion.Len(),
		LastSample:    w.last,
	}
	if speeds := w.speed.Get(); len(speeds) > 0 {
		s.CurrentSpeedKmh = w.speed.Last()
		s.AvgSpeedKmh, _ = stats.Mean(speeds)
		s.MinSpeedKmh, _ = stats.Min(speeds)
		s.MaxSpeedKmh, _ = stats.Max(speeds)
	}
	if v, ok := n.motionVariance(w); ok {
		stationary := v < n.Config.StationaryVarianceThreshold
		s.MotionVariance = &v
		s.IsStationary = &stationary
	}
	return s, true
}

// Users returns the number of users with windows.
func (n *Normalizer) Users() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

// Cleanup drops the user's windows.
func (n *Normalizer) Cleanup(userID conceptual.UserID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.users, userID)
}
