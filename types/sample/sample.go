package sample

import (
	"errors"
	"math"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/activity"
)

// ErrInvalidInput marks a sample or point that failed validation.
// Invalid input is dropped and no state is mutated.
var ErrInvalidInput = errors.New("invalid input")

// RawSample is a single reading as reported by a device.
// Optional fields are nil when the device did not report them.
type RawSample struct {
	UserID   conceptual.UserID `json:"user_id"`
	Time     time.Time         `json:"timestamp"`
	Lat      float64           `json:"latitude"`
	Lng      float64           `json:"longitude"`
	Accuracy float64           `json:"accuracy"`

	// Speed is in m/s.
	Speed    *float64 `json:"speed_mps,omitempty"`
	Altitude *float64 `json:"altitude,omitempty"`
	Bearing  *float64 `json:"bearing,omitempty"`

	Activity           string   `json:"activity_type,omitempty"`
	ActivityConfidence *float64 `json:"activity_confidence,omitempty"`

	Accelerometer *Accelerometer `json:"accelerometer,omitempty"`

	DeviceID string `json:"device_id,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Accelerometer is a 3-axis reading in m/s².
type Accelerometer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (a Accelerometer) Magnitude() float64 {
	return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
}

// Quality is a location accuracy tier.
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
)

// QualityFromAccuracy tiers an accuracy given in meters.
func QualityFromAccuracy(acc float64) Quality {
	switch {
	case acc <= 5:
		return QualityExcellent
	case acc <= 15:
		return QualityGood
	case acc <= 50:
		return QualityFair
	}
	return QualityPoor
}

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	}
	return "poor"
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Estimate is a filtered position and speed.
// It is diagnostic and never drives trip decisions.
type Estimate struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	SpeedKmh float64 `json:"speed_kmh"`
}

// NormalizedSample is a validated, smoothed and classified RawSample.
type NormalizedSample struct {
	UserID   conceptual.UserID `json:"user_id"`
	Time     time.Time         `json:"timestamp"`
	Lat      float64           `json:"latitude"`
	Lng      float64           `json:"longitude"`
	Accuracy float64           `json:"accuracy"`

	// SpeedKmh is the smoothed speed.
	SpeedKmh float64  `json:"speed_kmh"`
	Altitude *float64 `json:"altitude,omitempty"`
	Bearing  *float64 `json:"bearing,omitempty"`

	Activity           activity.Activity `json:"activity_type"`
	ActivityConfidence float64           `json:"activity_confidence"`

	IsMoving           bool    `json:"is_moving"`
	MovementConfidence float64 `json:"movement_confidence"`
	LocationQuality    Quality `json:"location_quality"`

	MotionVariance *float64 `json:"motion_variance,omitempty"`
	IsStationary   *bool    `json:"is_stationary,omitempty"`

	Estimate *Estimate `json:"estimate,omitempty"`
}
