// Package mode derives motion features from a finished trip and scores
// them against fixed per-mode ranges.
package mode

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/paulmach/orb/geo"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
)

var ErrInsufficientData = errors.New("insufficient data for analysis")

// MotionSample is an optional sensor reading taken during a trip.
type MotionSample struct {
	Time               time.Time             `json:"timestamp"`
	Accelerometer      *sample.Accelerometer `json:"accelerometer,omitempty"`
	ActivityConfidence *float64              `json:"activity_confidence,omitempty"`
}

// Features are the aggregate motion statistics of one trip.
type Features struct {
	AvgSpeedKmh     float64 `json:"avg_speed_kmh"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh"`
	SpeedVariance   float64 `json:"speed_variance"`
	SpeedP95        float64 `json:"speed_percentile_95"`
	AvgAcceleration float64 `json:"avg_acceleration"`
	MaxAcceleration float64 `json:"max_acceleration"`
	AccelVariance   float64 `json:"acceleration_variance"`

	// StopFrequency is stops per minute.
	StopFrequency       float64 `json:"stop_frequency"`
	DirectionChanges    int     `json:"direction_changes"`
	DistanceStraightKm  float64 `json:"distance_straight_line"`
	DistanceActualKm    float64 `json:"distance_actual"`
	DurationMinutes     float64 `json:"duration_minutes"`
	HourOfDay           int     `json:"time_of_day"`
	DayOfWeek           int     `json:"day_of_week"` // Monday is 0.
	ActivityConfidence  float64 `json:"activity_confidence"`
	ActivityConsistency float64 `json:"activity_consistency"`
	AvgAccuracy         float64 `json:"avg_accuracy"`
	PointCount          int     `json:"gps_point_count"`

	MotionVariance *float64 `json:"motion_variance,omitempty"`
}

// StopsPerHour is the stop frequency the classifier ranges are expressed in.
func (f *Features) StopsPerHour() float64 {
	return f.StopFrequency * 60
}

// Extractor derives Features from trip points.
type Extractor struct {
	Config *params.FeatureConfig
}

func NewExtractor(config *params.FeatureConfig) *Extractor {
	if config == nil {
		config = params.DefaultFeatureConfig()
	}
	return &Extractor{Config: config}
}

// Extract computes the features of a trip. Points need not be ordered.
func (e *Extractor) Extract(points []trip.GpsPoint, motion []MotionSample) (*Features, error) {
	if len(points) < e.Config.MinPoints {
		return nil, fmt.Errorf("%w: %d points, need %d", ErrInsufficientData, len(points), e.Config.MinPoints)
	}
	sorted := append([]trip.GpsPoint{}, points...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	f := &Features{
		ActivityConfidence:  0.5,
		ActivityConsistency: 0.5,
		PointCount:          len(sorted),
	}
	speedFeatures(f, sorted)
	e.movementFeatures(f, sorted)
	timeFeatures(f, sorted)
	gpsFeatures(f, sorted)
	if len(motion) > 0 {
		motionFeatures(f, motion)
	}
	return f, nil
}

func speedFeatures(f *Features, points []trip.GpsPoint) {
	speeds := stats.Float64Data{}
	for _, p := range points {
		if p.SpeedKmh != nil {
			speeds = append(speeds, *p.SpeedKmh)
		}
	}
	if len(speeds) == 0 {
		return
	}
	f.AvgSpeedKmh, _ = stats.Mean(speeds)
	f.MaxSpeedKmh, _ = stats.Max(speeds)
	f.SpeedVariance, _ = stats.PopulationVariance(speeds)
	f.SpeedP95 = nearestRank(speeds, 0.95)

	// Consecutive speed samples are taken to be one second apart.
	accels := make(stats.Float64Data, 0, len(speeds)-1)
	for i := 1; i < len(speeds); i++ {
		d := speeds[i] - speeds[i-1]
		if d < 0 {
			d = -d
		}
		accels = append(accels, d)
	}
	if len(accels) == 0 {
		return
	}
	f.AvgAcceleration, _ = stats.Mean(accels)
	f.MaxAcceleration, _ = stats.Max(accels)
	f.AccelVariance, _ = stats.PopulationVariance(accels)
}

// nearestRank returns the value at floor(q*n) of the ascending data,
// clamped to the last element.
func nearestRank(data stats.Float64Data, q float64) float64 {
	sorted := append(stats.Float64Data{}, data...)
	sort.Float64s(sorted)
	i := int(q * float64(len(sorted)))
	if i > len(sorted)-1 {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func (e *Extractor) movementFeatures(f *Features, points []trip.GpsPoint) {
	stops := 0
	for _, p := range points {
		if p.Speed() < e.Config.StopSpeedKmh {
			stops++
		}
	}
	hours := points[len(points)-1].Time.Sub(points[0].Time).Hours()
	if hours > 0 {
		f.StopFrequency = float64(stops) / (hours * 60)
	}

	for i := 2; i < len(points); i++ {
		b1 := geo.Bearing(points[i-2].Point(), points[i-1].Point())
		b2 := geo.Bearing(points[i-1].Point(), points[i].Point())
		if common.BearingDelta(b1, b2) > e.Config.DirectionChangeDegrees {
			f.DirectionChanges++
		}
	}

	for i := 1; i < len(points); i++ {
		f.DistanceActualKm += points[i-1].DistanceKm(points[i])
	}
	f.DistanceStraightKm = points[0].DistanceKm(points[len(points)-1])
}

func timeFeatures(f *Features, points []trip.GpsPoint) {
	start := points[0].Time
	f.DurationMinutes = points[len(points)-1].Time.Sub(start).Minutes()
	f.HourOfDay = start.Hour()
	f.DayOfWeek = (int(start.Weekday()) + 6) % 7
}

func gpsFeatures(f *Features, points []trip.GpsPoint) {
	acc := make(stats.Float64Data, 0, len(points))
	for _, p := range points {
		acc = append(acc, p.Accuracy)
	}
	f.AvgAccuracy = 100
	if m, err := stats.Mean(acc); err == nil {
		f.AvgAccuracy = m
	}
}

func motionFeatures(f *Features, motion []MotionSample) {
	mags := stats.Float64Data{}
	confs := stats.Float64Data{}
	for _, m := range motion {
		if m.Accelerometer != nil {
			mags = append(mags, m.Accelerometer.Magnitude())
		}
		c := 0.5
		if m.ActivityConfidence != nil {
			c = *m.ActivityConfidence
		}
		confs = append(confs, c)
	}
	if len(mags) > 0 {
		v := 0.0
		if len(mags) > 1 {
			v, _ = stats.SampleVariance(mags)
		}
		f.MotionVariance = &v
	}
	f.ActivityConfidence, _ = stats.Mean(confs)
}
